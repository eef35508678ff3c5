package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
)

// Consumer wires the runner to the build request topic
type Consumer struct {
	runner *Runner
	bus    eventbus.Bus
	log    *logger.Logger
}

// NewConsumer creates a consumer
func NewConsumer(runner *Runner, bus eventbus.Bus, log *logger.Logger) *Consumer {
	return &Consumer{runner: runner, bus: bus, log: log}
}

// Start subscribes to build requests; returns once the subscription is set up
func (c *Consumer) Start(ctx context.Context) error {
	err := c.bus.Subscribe(ctx, eventbus.TopicBuildRequested, func(ctx context.Context, key string, value []byte) error {
		var event models.BuildRequested
		if err := json.Unmarshal(value, &event); err != nil {
			c.log.Error("dropping malformed build request", "key", key, "error", err)
			return nil
		}

		if err := c.runner.Execute(ctx, event); err != nil {
			c.log.Error("build run execution failed", "run_id", event.RunID, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to build requests: %w", err)
	}

	c.log.Info("listening for build requests", "topic", eventbus.TopicBuildRequested)
	return nil
}
