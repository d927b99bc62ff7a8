package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
	"movie-match/internal/service"
	"movie-match/internal/tasks"
)

// Precacher 是预缓存任务依赖的服务能力
type Precacher interface {
	PreCache(ctx context.Context, roomID string, genreFilter []int) (*domain.CachedContentSet, error)
}

// PrecacheHandler 处理房间预缓存任务
type PrecacheHandler struct {
	precacher Precacher
}

// NewPrecacheHandler 创建 Handler 实例
func NewPrecacheHandler(precacher Precacher) *PrecacheHandler {
	return &PrecacheHandler{precacher: precacher}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *PrecacheHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
	logCtx.Info("Processing room precache task...")

	var payload tasks.RoomPrecachePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)

	set, err := h.precacher.PreCache(ctx, payload.RoomID, payload.GenreIDs)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			logCtx.WithError(err).Error("Precache task payload rejected")
			return fmt.Errorf("invalid precache payload: %v: %w", err, asynq.SkipRetry)
		}
		logCtx.WithError(err).Error("Failed to precache room content")
		return fmt.Errorf("failed to precache room %s: %w", payload.RoomID, err)
	}

	logCtx.WithField("items", len(set.Items)).Info("Room precache task processed successfully")
	return nil
}
