package service

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"

	"movie-match/internal/domain"
)

// ContentProvider 按类型过滤拉取候选内容。
type ContentProvider interface {
	FetchByFilter(ctx context.Context, genreIDs []int) ([]domain.ExternalContent, error)
}

// EventPublisher 发布房间事件。调用方只做尽力而为的发布，失败不影响主流程。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// PrecacheScheduler 把房间内容预缓存作为后台任务调度出去。
type PrecacheScheduler interface {
	SchedulePrecache(ctx context.Context, roomID string, genreIDs []int) error
}

// Option 调整服务的时钟、随机源等可替换依赖，主要用于测试。
type Option func(*options)

type options struct {
	now    func() time.Time
	random io.Reader
	newID  func() string
}

// WithClock 替换当前时间来源。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom 替换邀请码使用的随机源 (默认 crypto/rand)。
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// WithIDGenerator 替换房间 ID 生成器 (默认 UUID)。
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		random: rand.Reader,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
