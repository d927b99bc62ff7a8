package domain

import "time"

// 邀请码停用原因，均为终态。
const (
	InviteDeactivatedExpired       = "EXPIRED"
	InviteDeactivatedUsageExceeded = "USAGE_EXCEEDED"
	InviteDeactivatedManually      = "MANUALLY_DEACTIVATED"
)

// InviteCode 是全局唯一的短邀请码，映射到一个房间。
type InviteCode struct {
	Code              string
	RoomID            string
	CreatedBy         string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	IsActive          bool
	UsageCount        int64
	MaxUsage          *int64 // nil 表示不限次数
	DeactivatedReason string
	RequestID         string // 生成该邀请码的请求
}

// Expired 判断在 now 时刻是否已过期。
func (c *InviteCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// UsageExhausted 判断使用次数是否已达上限。
func (c *InviteCode) UsageExhausted() bool {
	return c.MaxUsage != nil && c.UsageCount >= *c.MaxUsage
}

// InviteLink 是生成邀请码后返回给房主的结果。
type InviteLink struct {
	Code      string    `json:"code"`
	URL       string    `json:"url"`
	RoomID    string    `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUsage  *int64    `json:"max_usage,omitempty"`
}

// RoomInviteRef 是按 roomId 建立的二级索引记录，用于列出房间的邀请码。
type RoomInviteRef struct {
	RoomID    string    `json:"room_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeepLinkAction 深链处理结果
type DeepLinkAction string

const (
	DeepLinkJoinRoom    DeepLinkAction = "JOIN_ROOM"
	DeepLinkInvalidCode DeepLinkAction = "INVALID_CODE"
	DeepLinkError       DeepLinkAction = "ERROR"
)

// DeepLinkResult 描述深链解析和校验的结果。
type DeepLinkResult struct {
	Action  DeepLinkAction `json:"action"`
	Code    string         `json:"code,omitempty"`
	RoomID  string         `json:"room_id,omitempty"`
	Room    *RoomInfo      `json:"room,omitempty"`
	Message string         `json:"message,omitempty"`
}
