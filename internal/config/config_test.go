package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GO_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Server.Environment)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.False(t, cfg.Engine.UseMockCatalog)
	assert.Equal(t, 3*time.Second, cfg.Engine.RemoteTimeout())
	assert.False(t, cfg.Remote.Configured())
	assert.Equal(t, "memory", cfg.Cache.Provider)
	assert.Equal(t, 500, cfg.Queue.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)

	loc, err := cfg.Engine.StreakLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GO_ENV", "test")
	t.Setenv("USE_MOCK_CATALOG", "true")
	t.Setenv("REMOTE_TIMEOUT_MS", "250")
	t.Setenv("STREAK_TIMEZONE", "Europe/Berlin")
	t.Setenv("REMOTE_DATABASE_URL", "postgres://badgehub@localhost/badgehub")
	t.Setenv("REMOTE_MAX_OPEN_CONNS", "4")
	t.Setenv("REMOTE_MAX_IDLE_CONNS", "8")
	t.Setenv("QUEUE_FLUSH_INTERVAL", "5s")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Engine.UseMockCatalog)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.RemoteTimeout())
	assert.True(t, cfg.Remote.Configured())
	assert.Equal(t, 4, cfg.Remote.MaxIdleConns, "idle connections are capped at the open limit")
	assert.Equal(t, 5*time.Second, cfg.Queue.FlushInterval)
	assert.Equal(t, "json", cfg.Logging.Format)

	loc, err := cfg.Engine.StreakLocation()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown timezone", "STREAK_TIMEZONE", "Mars/Olympus"},
		{"zero remote timeout", "REMOTE_TIMEOUT_MS", "0"},
		{"unknown cache provider", "CACHE_PROVIDER", "memcached"},
		{"redis without url", "CACHE_PROVIDER", "redis"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
		{"backoff below interval", "QUEUE_MAX_BACKOFF", "1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GO_ENV", "test")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestUnparsableValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("GO_ENV", "test")
	t.Setenv("QUEUE_BATCH_SIZE", "many")
	t.Setenv("USE_MOCK_CATALOG", "sometimes")
	t.Setenv("CACHE_TTL", "a while")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Queue.BatchSize)
	assert.False(t, cfg.Engine.UseMockCatalog)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
}

func TestWithSSLMode(t *testing.T) {
	assert.Equal(t, "postgres://h/db?sslmode=require", withSSLMode("postgres://h/db"))
	assert.Equal(t, "postgres://h/db?connect_timeout=5&sslmode=require", withSSLMode("postgres://h/db?connect_timeout=5"))
	assert.Equal(t, "host=h dbname=db sslmode=require", withSSLMode("host=h dbname=db"))
}
