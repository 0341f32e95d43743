package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisPublishClient is the slice of the go-redis client the publisher needs.
type redisPublishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher fans domain events out to a Redis pub/sub channel as JSON.
type RedisPublisher struct {
	client  redisPublishClient
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher builds a publisher for channel.
func NewRedisPublisher(client redisPublishClient, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Register subscribes the publisher to every event type.
func (p *RedisPublisher) Register(d Dispatcher) {
	SubscribeAll(d, p.Handle)
}

// Handle publishes one event.
func (p *RedisPublisher) Handle(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, body).Result()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	p.logger.Debug("event published",
		zap.String("channel", p.channel),
		zap.String("event_type", string(event.Type)),
		zap.Int64("receivers", receivers))
	return nil
}
