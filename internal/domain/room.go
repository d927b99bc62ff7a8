package domain

import "time"

// RoomStatus 表示房间所处的投票阶段。
type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "WAITING"   // 已创建，等待成员加入
	RoomStatusActive    RoomStatus = "ACTIVE"    // 至少两名成员，投票进行中
	RoomStatusMatched   RoomStatus = "MATCHED"   // 达成共识 (终态)
	RoomStatusCompleted RoomStatus = "COMPLETED" // 房主结束了房间
	RoomStatusInactive  RoomStatus = "INACTIVE"  // 房间被停用
)

// AcceptsVotes 只有 WAITING 和 ACTIVE 状态接受投票。
func (s RoomStatus) AcceptsVotes() bool {
	return s == RoomStatusWaiting || s == RoomStatusActive
}

// Joinable 报告房间是否还能通过邀请码加入。
func (s RoomStatus) Joinable() bool {
	return s != RoomStatusCompleted && s != RoomStatusInactive
}

// Room 表示一个投票房间。
type Room struct {
	ID           string
	Name         string
	Status       RoomStatus
	ResultItemID string // 仅在 MATCHED 时设置
	HostID       string
	MemberCount  int64 // 成员数缓存，共识判断不使用它
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MemberRole 房间成员角色
type MemberRole string

const (
	MemberRoleHost   MemberRole = "HOST"
	MemberRoleMember MemberRole = "MEMBER"
)

// Member 表示 (roomId, userId) 的成员关系，从不物理删除。
type Member struct {
	RoomID   string
	UserID   string
	Role     MemberRole
	IsActive bool
	JoinedAt time.Time
}

// RoomState 是投票接口返回给调用者的房间快照。
type RoomState struct {
	RoomID       string     `json:"room_id"`
	Status       RoomStatus `json:"status"`
	ResultItemID string     `json:"result_item_id,omitempty"`
	CurrentVotes int64      `json:"current_votes"`
	TotalMembers int64      `json:"total_members"`
}

// RoomInfo 是邀请码校验通过后暴露的房间摘要。
type RoomInfo struct {
	RoomID      string     `json:"room_id"`
	Name        string     `json:"name"`
	HostID      string     `json:"host_id"`
	Status      RoomStatus `json:"status"`
	MemberCount int64      `json:"member_count"`
}

// Info 从 Room 构造 RoomInfo。
func (r *Room) Info() *RoomInfo {
	return &RoomInfo{
		RoomID:      r.ID,
		Name:        r.Name,
		HostID:      r.HostID,
		Status:      r.Status,
		MemberCount: r.MemberCount,
	}
}
