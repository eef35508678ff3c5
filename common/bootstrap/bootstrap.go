package bootstrap

import (
	"context"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/config"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/db"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	rediscommon "github.com/ModelOps-Data-and-Analytics/agentops/common/redis"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/telemetry"
	"github.com/redis/go-redis/v9"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Initialize Redis (if not skipped)
	if !options.skipRedis {
		raw := redis.NewClient(&redis.Options{
			Addr:     components.Config.RedisAddr(),
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		if err := raw.Ping(ctx).Err(); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.Redis = rediscommon.NewClient(raw, components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return raw.Close()
		})
	}

	// 5. Initialize event bus (if not skipped)
	if !options.skipBus {
		components.Logger.Info("initializing event bus",
			"type", components.Config.Bus.Type,
		)

		switch components.Config.Bus.Type {
		case "memory":
			components.Bus = eventbus.NewMemoryBus(components.Logger)
		case "redis":
			if components.Redis == nil {
				return nil, fmt.Errorf("redis bus requires redis: remove WithoutRedis or set BUS_TYPE=memory")
			}
			components.Bus = eventbus.NewRedisStreamBus(
				components.Redis,
				components.Config.Bus.GroupID,
				components.Logger,
			)
		case "kafka":
			components.Bus, err = eventbus.NewKafkaBus(
				components.Config.Bus.Brokers,
				components.Config.Bus.GroupID,
				components.Logger,
			)
			if err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to create kafka bus: %w", err)
			}
		default:
			return nil, fmt.Errorf("unknown bus type: %s", components.Config.Bus.Type)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing event bus")
			return components.Bus.Close()
		})
	}

	// 6. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && components.Config.Telemetry.EnablePprof {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(
			components.Config.Telemetry.PprofPort,
			components.Logger,
		)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
			// Don't fail startup if telemetry fails
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"bus", components.Bus != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
