package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
	"movie-match/internal/metrics"
	"movie-match/internal/repository"
)

// 几个服务共用的读取逻辑，全部经过重试策略。

func loadRoom(ctx context.Context, store repository.KeyValueStore, retry *RetryPolicy, roomID string) (*domain.Room, error) {
	item, err := retryValue(ctx, retry, "room.get", func(ctx context.Context) (repository.Item, error) {
		return store.Get(ctx, repository.TableRooms, roomKey(roomID))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, mapRepoError(err)
	}
	return itemToRoom(item)
}

// loadMember 返回成员关系 (可能是 inactive 的)，不存在时返回 ErrNotMember。
func loadMember(ctx context.Context, store repository.KeyValueStore, retry *RetryPolicy, roomID, userID string) (*domain.Member, error) {
	item, err := retryValue(ctx, retry, "member.get", func(ctx context.Context) (repository.Item, error) {
		return store.Get(ctx, repository.TableRoomMembers, memberKey(roomID, userID))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, mapRepoError(err)
	}
	return itemToMember(item)
}

// activeMembers 在读取时统计房间的活跃成员。
func activeMembers(ctx context.Context, store repository.KeyValueStore, retry *RetryPolicy, roomID string) ([]*domain.Member, error) {
	items, err := retryValue(ctx, retry, "member.query", func(ctx context.Context) ([]repository.Item, error) {
		return store.Query(ctx, repository.QueryInput{
			Table:     repository.TableRoomMembers,
			Partition: roomID,
			Filter:    []repository.Condition{repository.Equals(attrIsActive, boolTrue)},
		})
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	members := make([]*domain.Member, 0, len(items))
	for _, item := range items {
		m, err := itemToMember(item)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// publishBestEffort 发布事件，失败只记录日志和指标。
func publishBestEffort(ctx context.Context, publisher EventPublisher, event domain.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		metrics.BestEffortFailures.WithLabelValues("event_publish").Inc()
		logrus.WithFields(logrus.Fields{
			"room_id":    event.RoomID,
			"event_type": event.Type,
		}).WithError(err).Warn("Failed to publish room event")
	}
}
