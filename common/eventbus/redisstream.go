package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	rediscommon "github.com/ModelOps-Data-and-Analytics/agentops/common/redis"
	"github.com/google/uuid"
)

// RedisStreamBus implements Bus on Redis streams with consumer groups.
// Each topic maps to one stream; each subscribing service forms one consumer
// group so the topic is load-balanced across replicas of that service.
type RedisStreamBus struct {
	redis    *rediscommon.Client
	group    string
	consumer string
	log      *logger.Logger
	cancel   context.CancelFunc
}

// NewRedisStreamBus creates a Redis-stream-backed bus
func NewRedisStreamBus(client *rediscommon.Client, group string, log *logger.Logger) *RedisStreamBus {
	return &RedisStreamBus{
		redis:    client,
		group:    group,
		consumer: fmt.Sprintf("%s_%s", group, uuid.New().String()[:8]),
		log:      log,
	}
}

// Publish adds the message to the topic stream
func (b *RedisStreamBus) Publish(ctx context.Context, topic string, key string, value []byte) error {
	_, err := b.redis.AddToStream(ctx, streamName(topic), map[string]interface{}{
		"key":   key,
		"value": string(value),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes the topic stream through this bus's consumer group
func (b *RedisStreamBus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	stream := streamName(topic)

	if err := b.redis.CreateStreamGroup(ctx, stream, b.group); err != nil {
		return err
	}

	b.log.Info("subscribing to stream", "stream", stream, "group", b.group, "consumer", b.consumer)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.log.Info("stream subscription cancelled", "stream", stream)
				return
			default:
			}

			streams, err := b.redis.ReadFromStreamGroup(ctx, b.group, b.consumer, stream, 10, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.Error("failed to read from stream", "stream", stream, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, s := range streams {
				for _, msg := range s.Messages {
					key, _ := msg.Values["key"].(string)
					value, _ := msg.Values["value"].(string)

					if err := handler(ctx, key, []byte(value)); err != nil {
						b.log.Error("message handler error", "stream", stream, "key", key, "error", err)
						// Fall through to ack: redelivery is handled by the
						// publisher-side idempotency keys, not the stream.
					}

					if err := b.redis.AckStreamMessage(ctx, stream, b.group, msg.ID); err != nil {
						b.log.Error("failed to ack message", "stream", stream, "message_id", msg.ID, "error", err)
					}
				}
			}
		}
	}()

	return nil
}

// Close is a no-op; subscriptions stop when their contexts are cancelled
func (b *RedisStreamBus) Close() error {
	return nil
}

func streamName(topic string) string {
	return fmt.Sprintf("events.%s", topic)
}
