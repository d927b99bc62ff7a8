package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"movie-match/internal/infra/content/tmdb"
	redisevents "movie-match/internal/infra/events/redis"
	gormkv "movie-match/internal/infra/kv/gorm"
	"movie-match/internal/infra/kv/memory"
	rediskv "movie-match/internal/infra/kv/redis"
	"movie-match/internal/infra/setup"
	"movie-match/internal/metrics"
	"movie-match/internal/repository"
	"movie-match/internal/service"
	"movie-match/internal/tasks"
	"movie-match/internal/worker"
)

// Services 汇总应用层服务，便于路由和测试共享
type Services struct {
	Rooms    *service.RoomService
	Votes    *service.VoteService
	Invites  *service.InviteService
	Precache *service.PrecacheService
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Store       repository.KeyValueStore
	Services    *Services
	Registry    *prometheus.Registry
	Router      *gin.Engine
	HttpServer  *http.Server
}

// NewLogger 按环境和级别创建 logrus Logger
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 服务层使用包级 logrus，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp(cfg *Config) (*App, error) {
	// 1. 初始化 Logger
	log := NewLogger(cfg)
	log.WithFields(logrus.Fields{"backend": cfg.StoreBackend, "env": cfg.AppEnv}).Info("Configuration loaded")

	app := &App{Config: cfg, Log: log}

	// 2. 初始化基础设施
	if cfg.RedisEnabled() {
		redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		app.RedisClient = redisClient
	}

	store, err := app.initStore()
	if err != nil {
		app.closeInfra()
		return nil, err
	}
	app.Store = store
	log.WithField("backend", cfg.StoreBackend).Info("Key-value store initialized")

	// 3. 初始化外部依赖
	var publisher service.EventPublisher
	var events *redisevents.Publisher
	var scheduler service.PrecacheScheduler
	var redisOpt asynq.RedisClientOpt
	if app.RedisClient != nil {
		events = redisevents.NewPublisher(app.RedisClient, cfg.KeyPrefix)
		publisher = events
		redisOpt = asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		app.AsynqClient = asynq.NewClient(redisOpt)
		scheduler = tasks.NewScheduler(app.AsynqClient)
	} else {
		log.Warn("Redis not configured: room events, rate limiting and background precache are disabled")
	}

	var provider service.ContentProvider
	if cfg.TMDBAPIKey != "" {
		provider = tmdb.NewClient(cfg.TMDBBaseURL, cfg.TMDBAPIKey, nil)
	} else {
		log.Warn("TMDB_API_KEY not set: rooms will use the built-in fallback catalog")
	}

	// 4. 初始化 Services
	retry := &service.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    2 * time.Second,
		Classify:    repository.IsTransient,
	}
	invites := service.NewInviteService(store, retry, service.InviteConfig{
		LinkHost:           cfg.DeepLinkHost,
		DefaultExpiryHours: cfg.InviteExpiryHours,
	})
	precache := service.NewPrecacheService(store, provider, retry)
	app.Services = &Services{
		Rooms:    service.NewRoomService(store, invites, scheduler, retry),
		Votes:    service.NewVoteService(store, publisher, retry),
		Invites:  invites,
		Precache: precache,
	}

	// 5. 初始化 Worker Server
	if app.AsynqClient != nil {
		app.AsynqServer = worker.NewWorkerServer(redisOpt, precache, cfg.WorkerConcurrency, log)
	}

	// 6. 指标
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(app.Registry)

	// 7. 路由和 HTTP Server
	app.Router = NewRouter(RouterDeps{
		Config:   cfg,
		Log:      log,
		Services: app.Services,
		Redis:    app.RedisClient,
		Events:   events,
		Registry: app.Registry,
	})
	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Application assembled successfully")
	return app, nil
}

func (a *App) initStore() (repository.KeyValueStore, error) {
	tables := repository.DefaultTables()
	switch a.Config.StoreBackend {
	case BackendRedis:
		return rediskv.NewStore(a.RedisClient, a.Config.KeyPrefix, tables), nil
	case BackendMySQL:
		db, err := setup.InitDB(a.Config.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		a.DB = db
		return gormkv.NewStore(db, tables), nil
	case BackendMemory:
		return memory.NewStore(tables...), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", a.Config.StoreBackend)
	}
}

// Start 启动 Worker 和 HTTP 服务器
func (a *App) Start() {
	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.Log.Info("Asynq worker server routine started")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.HttpServer != nil {
		if err := a.HttpServer.Shutdown(ctx); err != nil {
			a.Log.Errorf("Error shutting down HTTP server: %v", err)
		} else {
			a.Log.Info("HTTP server shut down gracefully.")
		}
	}

	// 2. 等待进行中的任务
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 3. 关闭客户端连接
	a.closeInfra()
	a.Log.Info("Application shutdown complete.")
}

func (a *App) closeInfra() {
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
