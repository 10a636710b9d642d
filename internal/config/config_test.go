package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, ".dagplan", cfg.Storage.Dir)
	assert.Equal(t, 3, cfg.Storage.WriteRetries)
	assert.Equal(t, "memory", cfg.Events.Backend)
	assert.Equal(t, "keyword", cfg.Router.Strategy)
	assert.False(t, cfg.Router.FallbackAll)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Workers.PoolSize)
	assert.Equal(t, time.Hour, cfg.Timeouts.RunTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.NodeTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Timeouts.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ShutdownTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("DAGPLAN_HTTP_PORT", "3000")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("ROUTER_STRATEGY", "llm")
	t.Setenv("ROUTER_FALLBACK_ALL", "true")
	t.Setenv("TIMEOUT_RUN", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "llm", cfg.Router.Strategy)
	assert.True(t, cfg.Router.FallbackAll)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.RunTimeout)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestValidateBackends(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	t.Run("bad storage backend", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "s3")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage backend")
	})

	t.Run("bad events backend", func(t *testing.T) {
		t.Setenv("EVENTS_BACKEND", "kafka")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "events backend")
	})

	t.Run("redis backend requires addr", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis address")
	})

	t.Run("bad router strategy", func(t *testing.T) {
		t.Setenv("ROUTER_STRATEGY", "random")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "router strategy")
	})

	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log level")
	})
}

func TestAddrs(t *testing.T) {
	cfg := &Config{HTTPPort: 8080, GRPCPort: 9090}
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}
