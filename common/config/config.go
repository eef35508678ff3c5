package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Bus       BusConfig
	Pipeline  PipelineConfig
	Telemetry TelemetryConfig
	Features  FeatureFlags
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// BusConfig holds event bus settings
type BusConfig struct {
	Type    string // "memory", "redis" or "kafka"
	Brokers []string
	GroupID string
}

// PipelineConfig holds workflow execution settings
type PipelineConfig struct {
	DefinitionPath      string
	EvaluationThreshold float64
	StageTimeout        time.Duration
	LeaseTTL            time.Duration
	ProductionAlias     string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// FeatureFlags for pipeline toggles
type FeatureFlags struct {
	EnableBuildTrigger   bool
	EnableKnowledgeBase  bool
	EnableActionGroups   bool
	EnableAutoPromotion  bool
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "agentops"),
			User:        getEnv("POSTGRES_USER", "agentops"),
			Password:    getEnv("POSTGRES_PASSWORD", "agentops"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Bus: BusConfig{
			Type:    getEnv("BUS_TYPE", "redis"),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("BUS_GROUP_ID", serviceName),
		},
		Pipeline: PipelineConfig{
			DefinitionPath:      getEnv("PIPELINE_DEFINITION", "configs/pipeline.yaml"),
			EvaluationThreshold: getEnvFloat("EVALUATION_THRESHOLD", 0.8),
			StageTimeout:        getEnvDuration("STAGE_TIMEOUT", 15*time.Minute),
			LeaseTTL:            getEnvDuration("RUN_LEASE_TTL", 30*time.Minute),
			ProductionAlias:     getEnv("PRODUCTION_ALIAS", "prod"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		Features: FeatureFlags{
			EnableBuildTrigger:  getEnvBool("ENABLE_BUILD_TRIGGER", true),
			EnableKnowledgeBase: getEnvBool("ENABLE_KNOWLEDGE_BASE", true),
			EnableActionGroups:  getEnvBool("ENABLE_ACTION_GROUPS", true),
			EnableAutoPromotion: getEnvBool("ENABLE_AUTO_PROMOTION", false),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Pipeline.EvaluationThreshold < 0 || c.Pipeline.EvaluationThreshold > 1 {
		return fmt.Errorf("evaluation threshold must be in [0,1], got %f", c.Pipeline.EvaluationThreshold)
	}

	switch c.Bus.Type {
	case "memory", "redis", "kafka":
	default:
		return fmt.Errorf("unknown bus type: %s", c.Bus.Type)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
