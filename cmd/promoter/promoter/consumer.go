package promoter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
)

// Consumer wires the executor to the promotion trigger topic
type Consumer struct {
	executor *Executor
	bus      eventbus.Bus
	log      *logger.Logger
}

// NewConsumer creates a consumer
func NewConsumer(executor *Executor, bus eventbus.Bus, log *logger.Logger) *Consumer {
	return &Consumer{executor: executor, bus: bus, log: log}
}

// Start subscribes to promotion triggers; returns once the subscription is set up
func (c *Consumer) Start(ctx context.Context) error {
	err := c.bus.Subscribe(ctx, eventbus.TopicPromotionRequested, func(ctx context.Context, key string, value []byte) error {
		var event models.PromotionRequested
		if err := json.Unmarshal(value, &event); err != nil {
			c.log.Error("dropping malformed promotion trigger", "key", key, "error", err)
			return nil
		}

		if err := c.executor.Execute(ctx, event); err != nil {
			c.log.Error("promotion execution failed", "artifact_id", event.ArtifactID, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to promotion triggers: %w", err)
	}

	c.log.Info("listening for promotion triggers", "topic", eventbus.TopicPromotionRequested)
	return nil
}
