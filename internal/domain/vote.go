package domain

import "time"

// VoteTally 记录某个房间内某个条目的累计票数，只增不减。
type VoteTally struct {
	RoomID string
	ItemID string
	Votes  int64
}

// UserVoteRecord 是 (userId, roomId, itemId) 的一次性写入标记，用于拒绝重复投票。
type UserVoteRecord struct {
	UserID    string
	RoomID    string
	ItemID    string
	VotedAt   time.Time
	RequestID string // 写入该记录的请求，用于识别应答丢失后的重试
}

// EventType 对外发布的事件类型
type EventType string

const (
	EventVoteUpdate EventType = "VOTE_UPDATE"
	EventMatchFound EventType = "MATCH_FOUND"
)

// Event 是发给 EventPublisher 的事件，Payload 字段按类型填充。
type Event struct {
	Type         EventType `json:"type"`
	RoomID       string    `json:"room_id"`
	UserID       string    `json:"user_id,omitempty"`
	ItemID       string    `json:"item_id"`
	CurrentVotes int64     `json:"current_votes,omitempty"`
	TotalMembers int64     `json:"total_members,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
