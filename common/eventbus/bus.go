package eventbus

import (
	"context"
)

// Topics carried on the bus. The approval guard publishes promotion triggers;
// the registry publishes build requests; workers publish failure notices.
const (
	TopicBuildRequested     = "build.requested"
	TopicBuildCompleted     = "build.completed"
	TopicBuildFailed        = "build.failed"
	TopicPromotionRequested = "promotion.requested"
	TopicPromotionFinished  = "promotion.finished"
)

// Bus interface for event passing between services
type Bus interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error
