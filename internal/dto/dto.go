// Package dto 定义 HTTP 与 WebSocket 接口的请求和响应结构体
package dto

import (
	"time"

	"movie-match/internal/domain"
)

// CreateRoomRequest 创建房间
type CreateRoomRequest struct {
	Name     string `json:"name" binding:"required"`
	GenreIDs []int  `json:"genre_ids"`
}

// JoinRoomRequest 通过邀请码加入房间
type JoinRoomRequest struct {
	InviteCode string `json:"invite_code" binding:"required"`
}

// VoteRequest 对候选条目投票
type VoteRequest struct {
	ItemID string `json:"item_id" binding:"required"`
}

// InviteRequest 生成新的邀请链接
type InviteRequest struct {
	ExpiryHours int    `json:"expiry_hours" binding:"omitempty,min=1"`
	MaxUsage    *int64 `json:"max_usage" binding:"omitempty,min=1"`
}

// DeepLinkRequest 通过深链加入房间
type DeepLinkRequest struct {
	URL string `json:"url" binding:"required"`
}

// RefreshContentRequest 刷新房间候选列表
type RefreshContentRequest struct {
	GenreIDs []int `json:"genre_ids"`
}

// RoomDTO 房间详情
type RoomDTO struct {
	RoomID       string            `json:"room_id"`
	Name         string            `json:"name"`
	Status       domain.RoomStatus `json:"status"`
	ResultItemID string            `json:"result_item_id,omitempty"`
	HostID       string            `json:"host_id"`
	MemberCount  int64             `json:"member_count"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewRoomDTO 从领域对象构造
func NewRoomDTO(r *domain.Room) RoomDTO {
	return RoomDTO{
		RoomID:       r.ID,
		Name:         r.Name,
		Status:       r.Status,
		ResultItemID: r.ResultItemID,
		HostID:       r.HostID,
		MemberCount:  r.MemberCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// CreateRoomResponse 创建房间成功的响应
type CreateRoomResponse struct {
	Room   RoomDTO            `json:"room"`
	Invite *domain.InviteLink `json:"invite"`
}

// RoomStateResponse 房间详情加当前投票状态
type RoomStateResponse struct {
	Room  RoomDTO           `json:"room"`
	State *domain.RoomState `json:"state"`
}

// InviteDTO 房间邀请码列表中的一项
type InviteDTO struct {
	Code              string    `json:"code"`
	RoomID            string    `json:"room_id"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	IsActive          bool      `json:"is_active"`
	UsageCount        int64     `json:"usage_count"`
	MaxUsage          *int64    `json:"max_usage,omitempty"`
	DeactivatedReason string    `json:"deactivated_reason,omitempty"`
}

// NewInviteDTOs 转换邀请码列表
func NewInviteDTOs(codes []*domain.InviteCode) []InviteDTO {
	out := make([]InviteDTO, 0, len(codes))
	for _, c := range codes {
		out = append(out, InviteDTO{
			Code:              c.Code,
			RoomID:            c.RoomID,
			CreatedBy:         c.CreatedBy,
			CreatedAt:         c.CreatedAt,
			ExpiresAt:         c.ExpiresAt,
			IsActive:          c.IsActive,
			UsageCount:        c.UsageCount,
			MaxUsage:          c.MaxUsage,
			DeactivatedReason: c.DeactivatedReason,
		})
	}
	return out
}

// TallyDTO 单个条目的票数
type TallyDTO struct {
	ItemID string `json:"item_id"`
	Votes  int64  `json:"votes"`
}

// NewTallyDTOs 转换票数列表
func NewTallyDTOs(tallies []*domain.VoteTally) []TallyDTO {
	out := make([]TallyDTO, 0, len(tallies))
	for _, t := range tallies {
		out = append(out, TallyDTO{ItemID: t.ItemID, Votes: t.Votes})
	}
	return out
}

// ErrorDTO 发送给 WebSocket 客户端的错误消息
type ErrorDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
