package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movie-match/internal/domain"
	"movie-match/internal/dto"
	"movie-match/internal/infra/kv/memory"
	"movie-match/internal/middleware"
	"movie-match/internal/repository"
	"movie-match/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testAuth 用请求头模拟已通过 JWT 校验的用户
func testAuth(c *gin.Context) {
	if id := c.GetHeader("X-User"); id != "" {
		c.Set(middleware.ContextUserID, id)
	}
	c.Next()
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store := memory.NewStore(repository.DefaultTables()...)
	retry := &service.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Classify: repository.IsTransient}
	invites := service.NewInviteService(store, retry, service.InviteConfig{LinkHost: "moviematch.app", DefaultExpiryHours: 24})
	rooms := service.NewRoomService(store, invites, nil, retry)
	votes := service.NewVoteService(store, nil, retry)
	precache := service.NewPrecacheService(store, nil, retry)

	roomHandler := NewRoomHandler(rooms, votes, precache)
	inviteHandler := NewInviteHandler(invites, rooms)

	r := gin.New()
	api := r.Group("/api", testAuth)
	api.POST("/rooms", roomHandler.CreateRoom)
	api.POST("/rooms/join", roomHandler.JoinRoom)
	api.GET("/rooms/:roomId", roomHandler.GetRoom)
	api.POST("/rooms/:roomId/leave", roomHandler.LeaveRoom)
	api.POST("/rooms/:roomId/votes", roomHandler.Vote)
	api.GET("/rooms/:roomId/tallies", roomHandler.ListTallies)
	api.GET("/rooms/:roomId/content", roomHandler.GetContent)
	api.POST("/rooms/:roomId/content/refresh", roomHandler.RefreshContent)
	api.POST("/rooms/:roomId/invites", inviteHandler.CreateInvite)
	api.GET("/rooms/:roomId/invites", inviteHandler.ListInvites)
	api.GET("/invites/:code", inviteHandler.ValidateInvite)
	api.DELETE("/invites/:code", inviteHandler.DeactivateInvite)
	api.POST("/invites/deeplink", inviteHandler.JoinByDeepLink)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func createRoom(t *testing.T, r *gin.Engine, host string) dto.CreateRoomResponse {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/rooms", host, gin.H{"name": "Movie night", "genre_ids": []int{28}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res dto.CreateRoomResponse
	decode(t, w, &res)
	return res
}

func TestRoomFlow_CreateJoinVoteMatch(t *testing.T) {
	r := newTestRouter(t)
	created := createRoom(t, r, "alice")
	roomID := created.Room.RoomID
	assert.Equal(t, domain.RoomStatusWaiting, created.Room.Status)
	require.NotNil(t, created.Invite)

	w := do(t, r, http.MethodPost, "/api/rooms/join", "bob", gin.H{"invite_code": created.Invite.Code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info domain.RoomInfo
	decode(t, w, &info)
	assert.Equal(t, domain.RoomStatusActive, info.Status)

	w = do(t, r, http.MethodPost, "/api/rooms/"+roomID+"/votes", "alice", gin.H{"item_id": "603"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodPost, "/api/rooms/"+roomID+"/votes", "alice", gin.H{"item_id": "603"})
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate vote")

	w = do(t, r, http.MethodPost, "/api/rooms/"+roomID+"/votes", "bob", gin.H{"item_id": "603"})
	require.Equal(t, http.StatusOK, w.Code)
	var state domain.RoomState
	decode(t, w, &state)
	assert.Equal(t, domain.RoomStatusMatched, state.Status)
	assert.Equal(t, "603", state.ResultItemID)

	w = do(t, r, http.MethodGet, "/api/rooms/"+roomID+"/tallies", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tallies struct {
		Tallies []dto.TallyDTO `json:"tallies"`
	}
	decode(t, w, &tallies)
	assert.Equal(t, []dto.TallyDTO{{ItemID: "603", Votes: 2}}, tallies.Tallies)

	w = do(t, r, http.MethodGet, "/api/rooms/"+roomID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail dto.RoomStateResponse
	decode(t, w, &detail)
	assert.Equal(t, domain.RoomStatusMatched, detail.Room.Status)
	assert.Equal(t, int64(2), detail.State.CurrentVotes)

	w = do(t, r, http.MethodPost, "/api/rooms/"+roomID+"/votes", "bob", gin.H{"item_id": "604"})
	assert.Equal(t, http.StatusConflict, w.Code, "matched room rejects votes")
}

func TestRoomHandler_Errors(t *testing.T) {
	r := newTestRouter(t)
	created := createRoom(t, r, "alice")
	roomID := created.Room.RoomID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
	}{
		{"unauthenticated", http.MethodPost, "/api/rooms", "", gin.H{"name": "x"}, http.StatusUnauthorized},
		{"missing name", http.MethodPost, "/api/rooms", "alice", gin.H{}, http.StatusBadRequest},
		{"blank name", http.MethodPost, "/api/rooms", "alice", gin.H{"name": "   "}, http.StatusBadRequest},
		{"unknown invite", http.MethodPost, "/api/rooms/join", "bob", gin.H{"invite_code": "ZZZZZZ"}, http.StatusNotFound},
		{"vote without item", http.MethodPost, "/api/rooms/" + roomID + "/votes", "alice", gin.H{}, http.StatusBadRequest},
		{"vote by stranger", http.MethodPost, "/api/rooms/" + roomID + "/votes", "mallory", gin.H{"item_id": "1"}, http.StatusNotFound},
		{"vote in missing room", http.MethodPost, "/api/rooms/nope/votes", "alice", gin.H{"item_id": "1"}, http.StatusNotFound},
		{"room detail by stranger", http.MethodGet, "/api/rooms/" + roomID, "mallory", nil, http.StatusNotFound},
		{"leave by stranger", http.MethodPost, "/api/rooms/" + roomID + "/leave", "mallory", nil, http.StatusNotFound},
		{"invite by stranger", http.MethodPost, "/api/rooms/" + roomID + "/invites", "mallory", nil, http.StatusNotFound},
		{"invalid max usage", http.MethodPost, "/api/rooms/" + roomID + "/invites", "alice", gin.H{"max_usage": 0, "expiry_hours": -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestInviteHandler_Lifecycle(t *testing.T) {
	r := newTestRouter(t)
	created := createRoom(t, r, "alice")
	roomID := created.Room.RoomID

	w := do(t, r, http.MethodPost, "/api/rooms/"+roomID+"/invites", "alice", gin.H{"expiry_hours": 2, "max_usage": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var link domain.InviteLink
	decode(t, w, &link)
	assert.Equal(t, "https://moviematch.app/room/"+link.Code, link.URL)
	require.NotNil(t, link.MaxUsage)

	w = do(t, r, http.MethodGet, "/api/invites/"+link.Code, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/api/rooms/"+roomID+"/invites", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Invites []dto.InviteDTO `json:"invites"`
	}
	decode(t, w, &listed)
	assert.Len(t, listed.Invites, 2)

	w = do(t, r, http.MethodPost, "/api/rooms/join", "bob", gin.H{"invite_code": link.Code})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodDelete, "/api/invites/"+created.Invite.Code, "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, r, http.MethodDelete, "/api/invites/"+created.Invite.Code, "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodGet, "/api/invites/"+created.Invite.Code, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInviteHandler_DeepLink(t *testing.T) {
	r := newTestRouter(t)
	created := createRoom(t, r, "alice")

	w := do(t, r, http.MethodPost, "/api/invites/deeplink", "bob", gin.H{"url": created.Invite.URL})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result domain.DeepLinkResult
	decode(t, w, &result)
	assert.Equal(t, domain.DeepLinkJoinRoom, result.Action)
	assert.Equal(t, created.Room.RoomID, result.RoomID)

	w = do(t, r, http.MethodPost, "/api/invites/deeplink", "bob", gin.H{"url": "https://moviematch.app/room/NOPE00"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	decode(t, w, &result)
	assert.Equal(t, domain.DeepLinkInvalidCode, result.Action)

	w = do(t, r, http.MethodPost, "/api/invites/deeplink", "bob", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomHandler_Content(t *testing.T) {
	r := newTestRouter(t)
	created := createRoom(t, r, "alice")
	roomID := created.Room.RoomID

	w := do(t, r, http.MethodGet, "/api/rooms/"+roomID+"/content", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var set domain.CachedContentSet
	decode(t, w, &set)
	assert.Len(t, set.Items, 24)

	w = do(t, r, http.MethodPost, "/api/rooms/"+roomID+"/content/refresh", "alice", gin.H{"genre_ids": []int{35}})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &set)
	assert.Equal(t, []int{35}, set.GenreFilters)

	w = do(t, r, http.MethodGet, "/api/rooms/"+roomID+"/content", "mallory", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", service.ErrValidation), http.StatusBadRequest},
		{service.ErrRoomNotFound, http.StatusNotFound},
		{service.ErrNotMember, http.StatusNotFound},
		{service.ErrInviteNotFound, http.StatusNotFound},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrDuplicateVote, http.StatusConflict},
		{fmt.Errorf("%w: room is MATCHED", service.ErrInvalidRoomState), http.StatusConflict},
		{fmt.Errorf("%w: redis timeout", service.ErrTemporarilyUnavailable), http.StatusServiceUnavailable},
		{service.ErrGenerationExhausted, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			HandleServiceError(c, tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
