package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"movie-match/internal/metrics"
	"movie-match/internal/repository"
)

// RetryPolicy 对可重试的存储错误做有上限的指数退避重试。
// 第 n 次重试 (从 0 开始) 之前等待 BaseDelay * 2^n，MaxDelay > 0 时再封顶。
type RetryPolicy struct {
	MaxAttempts int              // 总尝试次数 (含第一次)
	BaseDelay   time.Duration
	MaxDelay    time.Duration    // 0 表示不封顶
	Classify    func(error) bool // 报告错误是否可重试
}

// DefaultRetryPolicy 最多 3 次，基础退避 100ms。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Classify:    repository.IsTransient,
	}
}

func (p *RetryPolicy) attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p *RetryPolicy) transient(err error) bool {
	if p == nil || p.Classify == nil {
		return repository.IsTransient(err)
	}
	return p.Classify(err)
}

// Backoff 返回第 attempt 次重试前的等待时间。
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Do 执行 fn，可重试错误按退避重试；不可重试的错误原样返回。
// 重试耗尽后返回包装了 ErrTemporarilyUnavailable 和最后一次错误的结果。
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.attempts()
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !p.transient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		metrics.StoreRetries.WithLabelValues(op).Inc()
		logrus.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"delay":   delay,
		}).WithError(err).Debug("Transient store failure, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", ErrTemporarilyUnavailable, op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrTemporarilyUnavailable, op, attempts, err)
}

// retryValue 是 Do 的带返回值版本。
func retryValue[T any](ctx context.Context, p *RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
