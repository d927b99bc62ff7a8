package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"movie-match/internal/infra/setup"
)

// 存储后端
const (
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	StoreBackend      string
	DB                setup.DBConfig
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	KeyPrefix         string
	JWTSecret         string
	ServerPort        string
	LogLevel          string
	AppEnv            string
	TMDBAPIKey        string
	TMDBBaseURL       string
	DeepLinkHost      string
	InviteExpiryHours int
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RateLimitMax      int
	RateLimitWindow   time.Duration
	CORSAllowedOrigin string
	WorkerConcurrency int
}

// RedisEnabled 报告是否配置了 Redis
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// LoadConfig 从环境变量加载配置，.env 文件存在时先加载
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StoreBackend: os.Getenv("STORE_BACKEND"),
		DB: setup.DBConfig{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     os.Getenv("DB_HOST"),
			Port:     os.Getenv("DB_PORT"),
			Name:     os.Getenv("DB_NAME"),
		},
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         os.Getenv("REDIS_KEY_PREFIX"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ServerPort:        os.Getenv("SERVER_PORT"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		AppEnv:            os.Getenv("APP_ENV"),
		TMDBAPIKey:        os.Getenv("TMDB_API_KEY"),
		TMDBBaseURL:       os.Getenv("TMDB_BASE_URL"),
		DeepLinkHost:      os.Getenv("DEEP_LINK_HOST"),
		CORSAllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
		RateLimitWindow:   time.Second,
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.InviteExpiryHours, err = intEnv("INVITE_EXPIRY_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = intEnv("RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	baseDelayMs, err := intEnv("RETRY_BASE_DELAY_MS", 100)
	if err != nil {
		return nil, err
	}
	cfg.RetryBaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	if cfg.RateLimitMax, err = intEnv("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = intEnv("WORKER_CONCURRENCY", 10); err != nil {
		return nil, err
	}

	// --- 默认值 ---
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendRedis
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mm:"
	}
	if cfg.DeepLinkHost == "" {
		cfg.DeepLinkHost = "moviematch.app"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = "http://localhost:3000"
	}

	// --- 必要检查 ---
	switch cfg.StoreBackend {
	case BackendRedis, BackendMySQL:
		// 事件、限流和后台任务都依赖 Redis
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("environment variable REDIS_ADDR must be set for STORE_BACKEND=%s", cfg.StoreBackend)
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q (want redis, mysql or memory)", cfg.StoreBackend)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.InviteExpiryHours <= 0 {
		return nil, fmt.Errorf("INVITE_EXPIRY_HOURS must be positive, got %d", cfg.InviteExpiryHours)
	}
	if cfg.RetryMaxAttempts <= 0 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RateLimitMax <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", cfg.RateLimitMax)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", name, err)
	}
	return v, nil
}
