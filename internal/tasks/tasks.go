package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// 定义任务类型常量
const (
	TypeRoomPrecache = "room:precache" // 房间内容预缓存任务
)

// RoomPrecachePayload 预缓存任务的数据结构
type RoomPrecachePayload struct {
	RoomID   string `json:"roomId"`
	GenreIDs []int  `json:"genreIds"`
}

// PrecacheTaskID 同一房间的预缓存任务去重用的 ID
func PrecacheTaskID(roomID string) string {
	return "precache:" + roomID
}

// NewRoomPrecacheTask 创建一个新的预缓存任务
func NewRoomPrecacheTask(roomID string, genreIDs []int) (*asynq.Task, error) {
	if roomID == "" {
		return nil, errors.New("tasks: room id is required")
	}
	payloadBytes, err := json.Marshal(RoomPrecachePayload{RoomID: roomID, GenreIDs: genreIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomPrecache, payloadBytes), nil
}

// Enqueuer 是 asynq.Client 中调度器用到的部分
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler 把预缓存请求转成 asynq 任务
type Scheduler struct {
	client   Enqueuer
	maxRetry int
	timeout  time.Duration
}

// NewScheduler 创建调度器
func NewScheduler(client Enqueuer) *Scheduler {
	if client == nil {
		panic("asynq client cannot be nil for Scheduler")
	}
	return &Scheduler{client: client, maxRetry: 3, timeout: 2 * time.Minute}
}

// SchedulePrecache 入队预缓存任务。同一房间已有排队中的任务时视为成功。
func (s *Scheduler) SchedulePrecache(ctx context.Context, roomID string, genreIDs []int) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "task_type": TypeRoomPrecache})

	task, err := NewRoomPrecacheTask(roomID, genreIDs)
	if err != nil {
		return fmt.Errorf("failed to build precache task: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.TaskID(PrecacheTaskID(roomID)),
		asynq.MaxRetry(s.maxRetry),
		asynq.Timeout(s.timeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logCtx.Debug("Precache task already queued")
			return nil
		}
		logCtx.WithError(err).Error("Failed to enqueue precache task")
		return fmt.Errorf("failed to enqueue precache task for room %s: %w", roomID, err)
	}
	logCtx.WithField("task_id", info.ID).Info("Precache task enqueued")
	return nil
}
