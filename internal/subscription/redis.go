package subscription

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel carrying updates between instances.
const DefaultChannel = "restkit:updates"

// RedisPublisher publishes updates on a Redis channel so that every
// instance relays them to its own hub.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher on channel, DefaultChannel if empty
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// Relay forwards the updates received on a Redis channel to target until
// ctx is done. It returns once the subscription is confirmed; delivery runs
// in the background.
func Relay(ctx context.Context, client redis.UniversalClient, channel string, target Publisher, logger *zap.Logger) error {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go func() {
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var update Update
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					logger.Warn("invalid update received", zap.String("channel", channel), zap.Error(err))
					continue
				}
				if err := target.Publish(ctx, update); err != nil {
					logger.Warn("failed to relay update", zap.Strings("topics", update.Topics), zap.Error(err))
				}
			}
		}
	}()
	return nil
}
