package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"movie-match/internal/dto"
	"movie-match/internal/service"
)

// RoomHandler 封装房间、投票和候选内容相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService     *service.RoomService
	voteService     *service.VoteService
	precacheService *service.PrecacheService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(rooms *service.RoomService, votes *service.VoteService, precache *service.PrecacheService) *RoomHandler {
	return &RoomHandler{roomService: rooms, voteService: votes, precacheService: precache}
}

// requireMember 只有房间的活跃成员可以继续
func (h *RoomHandler) requireMember(c *gin.Context, roomID, userID string) bool {
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

// CreateRoom POST /api/rooms
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: name is required")
		return
	}

	res, err := h.roomService.CreateRoom(c.Request.Context(), userID, req.Name, req.GenreIDs)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithFields(logrus.Fields{"room_id": res.Room.ID, "invite_code": res.Invite.Code}).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, dto.CreateRoomResponse{
		Room:   dto.NewRoomDTO(res.Room),
		Invite: res.Invite,
	})
}

// JoinRoom POST /api/rooms/join
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req dto.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: invite_code is required")
		return
	}
	logCtx = logCtx.WithField("invite_code", req.InviteCode)

	info, err := h.roomService.JoinRoom(c.Request.Context(), userID, req.InviteCode)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Failed to join room")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("room_id", info.RoomID).Info("Handler.JoinRoom: User joined room successfully")
	SuccessResponse(c, http.StatusOK, info)
}

// LeaveRoom POST /api/rooms/:roomId/leave
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	if err := h.roomService.LeaveRoom(c.Request.Context(), userID, roomID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRoom GET /api/rooms/:roomId
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	if !h.requireMember(c, roomID, userID) {
		return
	}
	room, state, err := h.roomService.GetRoomState(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.RoomStateResponse{Room: dto.NewRoomDTO(room), State: state})
}

// Vote POST /api/rooms/:roomId/votes
func (h *RoomHandler) Vote(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	var req dto.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.Vote: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: item_id is required")
		return
	}

	state, err := h.voteService.ProcessVote(c.Request.Context(), userID, roomID, req.ItemID)
	if err != nil {
		logCtx.WithError(err).WithField("item_id", req.ItemID).Warn("Handler.Vote: Vote rejected")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, state)
}

// ListTallies GET /api/rooms/:roomId/tallies
func (h *RoomHandler) ListTallies(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	if !h.requireMember(c, roomID, userID) {
		return
	}
	tallies, err := h.voteService.ListRoomTallies(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"room_id": roomID, "tallies": dto.NewTallyDTOs(tallies)})
}

// GetContent GET /api/rooms/:roomId/content
// 缓存缺失或过期时同步构建，保证调用方总能拿到候选列表。
func (h *RoomHandler) GetContent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	if !h.requireMember(c, roomID, userID) {
		return
	}
	set, err := h.precacheService.PreCache(c.Request.Context(), roomID, nil)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, set)
}

// RefreshContent POST /api/rooms/:roomId/content/refresh
func (h *RoomHandler) RefreshContent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	if !h.requireMember(c, roomID, userID) {
		return
	}
	var req dto.RefreshContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: genre_ids must be a list of integers")
		return
	}
	set, err := h.precacheService.RefreshCache(c.Request.Context(), roomID, req.GenreIDs)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, set)
}
