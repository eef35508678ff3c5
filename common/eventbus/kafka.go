package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/segmentio/kafka-go"
)

// KafkaBus implements Bus on segmentio/kafka-go. One writer per topic,
// one reader per subscription, all sharing the configured consumer group.
type KafkaBus struct {
	brokers []string
	group   string
	log     *logger.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
}

// NewKafkaBus creates a Kafka-backed bus
func NewKafkaBus(brokers []string, group string, log *logger.Logger) (*KafkaBus, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}

	return &KafkaBus{
		brokers: brokers,
		group:   group,
		log:     log,
		writers: make(map[string]*kafka.Writer),
	}, nil
}

// Publish writes a message to the topic, keyed for per-key ordering
func (b *KafkaBus) Publish(ctx context.Context, topic string, key string, value []byte) error {
	writer := b.writerFor(topic)

	err := writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes the topic through the bus's consumer group
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  b.group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	b.log.Info("subscribing to kafka topic", "topic", topic, "group", b.group)

	go func() {
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.Error("kafka fetch failed", "topic", topic, "error", err)
				time.Sleep(time.Second)
				continue
			}

			if err := handler(ctx, string(msg.Key), msg.Value); err != nil {
				b.log.Error("message handler error", "topic", topic, "key", string(msg.Key), "error", err)
			}

			if err := reader.CommitMessages(ctx, msg); err != nil {
				b.log.Error("kafka commit failed", "topic", topic, "error", err)
			}
		}
	}()

	return nil
}

// Close closes all writers and readers
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for topic, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer %s: %w", topic, err)
		}
	}
	for _, r := range b.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close reader: %w", err)
		}
	}
	return firstErr
}

func (b *KafkaBus) writerFor(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	b.writers[topic] = w
	return w
}
