package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"movie-match/internal/repository"
	"movie-match/internal/service"
)

func TestRetryPolicy_RetriesTransientUntilSuccess(t *testing.T) {
	p := fastRetry()
	calls := 0
	err := p.Do(context.Background(), "test.op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return repository.Transient(errors.New("throttled"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_NonTransientReturnedImmediately(t *testing.T) {
	p := fastRetry()
	calls := 0
	err := p.Do(context.Background(), "test.op", func(ctx context.Context) error {
		calls++
		return repository.ErrConditionFailed
	})
	assert.Equal(t, repository.ErrConditionFailed, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ExhaustedKeepsCause(t *testing.T) {
	p := fastRetry()
	cause := errors.New("connection reset")
	calls := 0
	err := p.Do(context.Background(), "test.op", func(ctx context.Context) error {
		calls++
		return repository.Transient(cause)
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, service.ErrTemporarilyUnavailable)
	assert.ErrorIs(t, err, repository.ErrTransient)
	assert.ErrorIs(t, err, cause)
}

func TestRetryPolicy_StopsWhenContextCancelled(t *testing.T) {
	p := &service.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, Classify: repository.IsTransient}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, "test.op", func(ctx context.Context) error {
		calls++
		cancel()
		return repository.Transient(errors.New("busy"))
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, service.ErrTemporarilyUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := service.DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))

	p.MaxDelay = 250 * time.Millisecond
	assert.Equal(t, 250*time.Millisecond, p.Backoff(2))
}

func TestRetryPolicy_ZeroValueRunsOnce(t *testing.T) {
	var p service.RetryPolicy
	calls := 0
	err := p.Do(context.Background(), "test.op", func(ctx context.Context) error {
		calls++
		return repository.Transient(errors.New("busy"))
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, service.ErrTemporarilyUnavailable)
}
