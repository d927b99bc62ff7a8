package bootstrap

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	httpHandler "movie-match/internal/handler/http"
	wsHandler "movie-match/internal/handler/websocket"
	redisevents "movie-match/internal/infra/events/redis"
	"movie-match/internal/middleware"
)

// RouterDeps 是构建路由需要的依赖，Redis 与 Events 可以为空
type RouterDeps struct {
	Config   *Config
	Log      *logrus.Logger
	Services *Services
	Redis    *redis.Client
	Events   *redisevents.Publisher
	Registry *prometheus.Registry
}

// NewRouter 初始化 Gin Engine、中间件和全部路由
func NewRouter(d RouterDeps) *gin.Engine {
	if d.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(d.Log))
	router.Use(corsMiddleware(d.Config.CORSAllowedOrigin))
	if d.Redis != nil {
		router.Use(middleware.RateLimit(d.Redis, d.Config.KeyPrefix, d.Config.RateLimitMax, d.Config.RateLimitWindow))
	}

	roomHandler := httpHandler.NewRoomHandler(d.Services.Rooms, d.Services.Votes, d.Services.Precache)
	inviteHandler := httpHandler.NewInviteHandler(d.Services.Invites, d.Services.Rooms)
	auth := middleware.Auth(d.Config.JWTSecret)

	api := router.Group("/api")
	roomRoutes := api.Group("/rooms").Use(auth)
	{
		roomRoutes.POST("", roomHandler.CreateRoom)
		roomRoutes.POST("/join", roomHandler.JoinRoom)
		roomRoutes.GET("/:roomId", roomHandler.GetRoom)
		roomRoutes.POST("/:roomId/leave", roomHandler.LeaveRoom)
		roomRoutes.POST("/:roomId/votes", roomHandler.Vote)
		roomRoutes.GET("/:roomId/tallies", roomHandler.ListTallies)
		roomRoutes.POST("/:roomId/invites", inviteHandler.CreateInvite)
		roomRoutes.GET("/:roomId/invites", inviteHandler.ListInvites)
		roomRoutes.GET("/:roomId/content", roomHandler.GetContent)
		roomRoutes.POST("/:roomId/content/refresh", roomHandler.RefreshContent)
	}
	// 校验邀请码不需要登录，加入前的预览页会用到
	api.GET("/invites/:code", inviteHandler.ValidateInvite)
	inviteRoutes := api.Group("/invites").Use(auth)
	{
		inviteRoutes.DELETE("/:code", inviteHandler.DeactivateInvite)
		inviteRoutes.POST("/deeplink", inviteHandler.JoinByDeepLink)
	}

	if d.Events != nil {
		ws := wsHandler.NewWebSocketHandler(d.Events, d.Services.Rooms, d.Config.CORSAllowedOrigin)
		router.GET("/ws/rooms/:roomId", auth, ws.HandleConnection)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		if userID, ok := middleware.UserID(c); ok {
			entry = entry.WithField("user_id", userID)
		}
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= http.StatusInternalServerError {
			entry.Error("Server error")
		} else if statusCode >= http.StatusBadRequest {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}
