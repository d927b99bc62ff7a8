package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
	"movie-match/internal/dto"
	"movie-match/internal/service"
)

// InviteHandler 封装邀请码与深链相关的 HTTP 处理逻辑
type InviteHandler struct {
	inviteService *service.InviteService
	roomService   *service.RoomService
}

// NewInviteHandler 创建 InviteHandler 实例
func NewInviteHandler(invites *service.InviteService, rooms *service.RoomService) *InviteHandler {
	return &InviteHandler{inviteService: invites, roomService: rooms}
}

func (h *InviteHandler) requireMember(c *gin.Context, roomID, userID string) bool {
	ok, err := h.roomService.IsActiveMember(c.Request.Context(), roomID, userID)
	if err != nil {
		HandleServiceError(c, err)
		return false
	}
	if !ok {
		HandleServiceError(c, service.ErrNotMember)
		return false
	}
	return true
}

// CreateInvite POST /api/rooms/:roomId/invites
func (h *InviteHandler) CreateInvite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	var req dto.InviteRequest
	// 请求体可以为空，全部使用默认值
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logCtx.WithError(err).Warn("Handler.CreateInvite: Invalid input format")
			ErrorResponse(c, http.StatusBadRequest, "Invalid input: expiry_hours and max_usage must be positive")
			return
		}
	}
	if !h.requireMember(c, roomID, userID) {
		return
	}

	link, err := h.inviteService.GenerateInviteLink(c.Request.Context(), roomID, userID, service.InviteOptions{
		ExpiryHours: req.ExpiryHours,
		MaxUsage:    req.MaxUsage,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateInvite: Failed to generate invite")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, link)
}

// ListInvites GET /api/rooms/:roomId/invites
func (h *InviteHandler) ListInvites(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	if !h.requireMember(c, roomID, userID) {
		return
	}
	codes, err := h.inviteService.ListRoomInvites(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"room_id": roomID, "invites": dto.NewInviteDTOs(codes)})
}

// ValidateInvite GET /api/invites/:code
func (h *InviteHandler) ValidateInvite(c *gin.Context) {
	info, err := h.inviteService.ValidateInviteCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, info)
}

// DeactivateInvite DELETE /api/invites/:code
func (h *InviteHandler) DeactivateInvite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.inviteService.DeactivateInviteCode(c.Request.Context(), c.Param("code"), userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// JoinByDeepLink POST /api/invites/deeplink
// 结果动作总是放在响应体里；INVALID_CODE 返回 404，ERROR 返回 503。
func (h *InviteHandler) JoinByDeepLink(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.DeepLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: url is required")
		return
	}

	result, err := h.roomService.JoinRoomByLink(c.Request.Context(), userID, req.URL)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	switch result.Action {
	case domain.DeepLinkJoinRoom:
		SuccessResponse(c, http.StatusOK, result)
	case domain.DeepLinkInvalidCode:
		SuccessResponse(c, http.StatusNotFound, result)
	default:
		SuccessResponse(c, http.StatusServiceUnavailable, result)
	}
}
