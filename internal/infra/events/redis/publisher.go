// Package redisevents 通过 Redis Pub/Sub 广播房间事件。
package redisevents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
)

// Publisher 把房间事件 JSON 编码后发布到房间频道。
type Publisher struct {
	client    *redis.Client
	keyPrefix string
}

// NewPublisher 创建事件发布者
func NewPublisher(client *redis.Client, keyPrefix string) *Publisher {
	if client == nil {
		panic("Redis client cannot be nil for event Publisher")
	}
	if keyPrefix == "" {
		keyPrefix = "mm:"
	}
	return &Publisher{client: client, keyPrefix: keyPrefix}
}

// ChannelFor 返回房间事件频道名
func (p *Publisher) ChannelFor(roomID string) string {
	return fmt.Sprintf("%sroom:%s:events", p.keyPrefix, roomID)
}

// Publish 发布一个房间事件。
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	channel := p.ChannelFor(event.RoomID)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal event for channel %s: %w", channel, err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"event_type":   event.Type,
			"payload_size": len(payload),
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish event to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe 订阅房间事件频道，调用方负责 Close。
func (p *Publisher) Subscribe(ctx context.Context, roomID string) (*redis.PubSub, error) {
	sub := p.client.Subscribe(ctx, p.ChannelFor(roomID))
	// 等待订阅确认，保证之后发布的事件不会丢
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to room %s: %w", roomID, err)
	}
	return sub, nil
}

// DecodeEvent 解码频道消息
func DecodeEvent(payload string) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return domain.Event{}, fmt.Errorf("redis: malformed room event: %w", err)
	}
	return event, nil
}
