package eventbus

import (
	"context"
	"sync"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
)

// MemoryBus is an in-memory bus for tests and single-process deployments
type MemoryBus struct {
	topics map[string][]chan *message
	mu     sync.RWMutex
	closed bool
	log    *logger.Logger
}

type message struct {
	topic string
	key   string
	value []byte
}

// NewMemoryBus creates a new in-memory bus
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{
		topics: make(map[string][]chan *message),
		log:    log,
	}
}

// Publish delivers a message to every subscriber of the topic
func (b *MemoryBus) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.RLock()
	subscribers := b.topics[topic]
	b.mu.RUnlock()

	msg := &message{topic: topic, key: key, value: value}

	for _, ch := range subscribers {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.log.Warn("bus subscriber full, dropping message", "topic", topic, "key", key)
		}
	}
	return nil
}

// Subscribe registers a handler for a topic and processes messages until ctx
// is done. The registration is in place before Subscribe returns: a publish
// after Subscribe never misses the subscriber.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch := make(chan *message, 1000)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()

	b.log.Info("subscribing to topic", "topic", topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.key, msg.value); err != nil {
					b.log.Error("message handler error", "topic", topic, "key", msg.key, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes the bus
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for topic, chans := range b.topics {
		for _, ch := range chans {
			close(ch)
		}
		b.log.Info("closed topic", "topic", topic)
	}
	b.topics = make(map[string][]chan *message)

	return nil
}
