package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the dagplan orchestrator.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"DAGPLAN_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"DAGPLAN_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage backend selection
	Storage StorageConfig

	// Redis configuration (storage backend "redis" and event bus "redis")
	Redis RedisConfig

	// Event bus backend selection
	Events EventsConfig

	// Routing strategy
	Router RouterConfig

	// LLM configuration
	LLM LLMConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// StorageConfig selects and parameterizes the checkpoint/contract stores.
type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" envDefault:"fs"`
	Dir     string `env:"STORAGE_DIR" envDefault:".dagplan"`

	// WriteRetries bounds retry attempts for durable store writes.
	WriteRetries int `env:"STORAGE_WRITE_RETRIES" envDefault:"3"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	Backend       string `env:"EVENTS_BACKEND" envDefault:"memory"`
	ConsumerGroup string `env:"EVENTS_CONSUMER_GROUP" envDefault:"dagplan"`
	ConsumerName  string `env:"EVENTS_CONSUMER_NAME" envDefault:"dagplan-0"`
}

// RouterConfig selects the seed-selection strategy.
type RouterConfig struct {
	Strategy string `env:"ROUTER_STRATEGY" envDefault:"keyword"`

	// FallbackAll seeds every node when keyword matching finds nothing.
	FallbackAll bool `env:"ROUTER_FALLBACK_ALL" envDefault:"false"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Default model settings
	DefaultModel       string  `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultTemperature float64 `env:"LLM_DEFAULT_TEMPERATURE" envDefault:"0.7"`
	DefaultMaxTokens   int     `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds the orchestration timeouts.
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"3600s"`
	NodeTimeout     time.Duration `env:"TIMEOUT_NODE" envDefault:"600s"`
	CallTimeout     time.Duration `env:"TIMEOUT_EXECUTOR_CALL" envDefault:"180s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Storage.Backend {
	case "fs", "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be fs, redis, or memory)", c.Storage.Backend)
	}
	if c.Storage.Backend == "fs" && c.Storage.Dir == "" {
		return fmt.Errorf("storage dir is required for the fs backend")
	}
	if c.Storage.WriteRetries < 1 {
		return fmt.Errorf("storage write retries must be at least 1")
	}

	switch c.Events.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}

	if c.Storage.Backend == "redis" || c.Events.Backend == "redis" {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	switch c.Router.Strategy {
	case "keyword", "llm":
	default:
		return fmt.Errorf("unsupported router strategy: %s (must be keyword or llm)", c.Router.Strategy)
	}

	// The LLM backend is needed by the llm router and the planner executor.
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address.
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
