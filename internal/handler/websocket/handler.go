package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	httpHandler "movie-match/internal/handler/http"
	"movie-match/internal/middleware"
	"movie-match/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// 客户端只发送控制帧，读取上限很小
	maxMessageSize = 512
)

// EventSubscriber 订阅房间事件频道
type EventSubscriber interface {
	Subscribe(ctx context.Context, roomID string) (*redis.PubSub, error)
}

// MembershipChecker 判断用户是否为房间活跃成员
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, roomID, userID string) (bool, error)
}

// WebSocketHandler 把房间事件推送给已连接的成员。
// 每个连接独立订阅房间频道，进程内不保存房间与连接的映射。
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	subscriber EventSubscriber
	members    MembershipChecker
}

// NewWebSocketHandler 创建 WebSocketHandler 实例；allowedOrigin 为空时不校验来源
func NewWebSocketHandler(subscriber EventSubscriber, members MembershipChecker, allowedOrigin string) *WebSocketHandler {
	if subscriber == nil {
		panic("EventSubscriber cannot be nil for WebSocketHandler")
	}
	if members == nil {
		panic("MembershipChecker cannot be nil for WebSocketHandler")
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || origin == "" || origin == allowedOrigin
			},
		},
		subscriber: subscriber,
		members:    members,
	}
}

// HandleConnection GET /ws/rooms/:roomId
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	// 1. 获取认证用户 ID
	userID, ok := middleware.UserID(c)
	if !ok {
		logrus.Warn("WS Handler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID := c.Param("roomId")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	// 2. 只有活跃成员可以订阅
	active, err := h.members.IsActiveMember(c.Request.Context(), roomID, userID)
	if err != nil {
		logCtx.WithError(err).Error("WS Handler: Error checking membership")
		httpHandler.HandleServiceError(c, err)
		return
	}
	if !active {
		logCtx.Warn("WS Handler: User is not an active member")
		httpHandler.HandleServiceError(c, service.ErrNotMember)
		return
	}

	// 3. 先订阅再升级，订阅失败时还能返回 HTTP 错误
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.subscriber.Subscribe(ctx, roomID)
	if err != nil {
		cancel()
		logCtx.WithError(err).Error("WS Handler: Failed to subscribe to room events")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event stream unavailable"})
		return
	}

	// 4. 升级 HTTP 连接到 WebSocket，Upgrade 失败时已自行写回错误
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		_ = sub.Close()
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	s := &stream{conn: conn, sub: sub, cancel: cancel, log: logCtx}
	go s.writePump(ctx)
	go s.readPump()
}

// stream 是单个 WebSocket 连接与其 Redis 订阅的组合
type stream struct {
	conn   *websocket.Conn
	sub    *redis.PubSub
	cancel context.CancelFunc
	log    *logrus.Entry
}

// readPump 只处理控制帧，读失败即视为客户端断开
func (s *stream) readPump() {
	defer s.cancel()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Warn("WS: unexpected close")
			}
			return
		}
	}
}

// writePump 把频道消息原样转发给客户端，并定期发送 Ping
func (s *stream) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.sub.Close()
		_ = s.conn.Close()
		s.log.Info("WS: connection closed")
	}()

	messages := s.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg, ok := <-messages:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				s.log.WithError(err).Warn("WS: write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
