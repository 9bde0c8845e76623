package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "8787", cfg.Port)
	assert.Equal(t, "leapads", cfg.ServiceName)
	assert.Equal(t, 50, cfg.ImpressionBatchSize)
	assert.Equal(t, 30*time.Second, cfg.ImpressionFlushInterval)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.RateLimitImpressions)
	assert.Equal(t, 10, cfg.RateLimitClicks)
	assert.Equal(t, BackendMemory, cfg.RateLimitBackend)
	assert.Equal(t, BackendPostgres, cfg.AnalyticsBackend)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.False(t, cfg.DebugTrace)
	assert.True(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.FilterBots)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.ClickCeilingAboveImpressions())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"IMPRESSION_BATCH_SIZE":     "10",
		"IMPRESSION_FLUSH_INTERVAL": "2s",
		"RATE_LIMIT_BACKEND":        "redis",
		"REDIS_ADDR":                "localhost:6379",
		"RATE_LIMIT_CLICKS":         "500",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ImpressionBatchSize)
	assert.Equal(t, 2*time.Second, cfg.ImpressionFlushInterval)
	assert.Equal(t, BackendRedis, cfg.RateLimitBackend)
	assert.True(t, cfg.ClickCeilingAboveImpressions())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"zero batch size", map[string]string{"IMPRESSION_BATCH_SIZE": "0"}},
		{"negative interval", map[string]string{"IMPRESSION_FLUSH_INTERVAL": "-1s"}},
		{"zero window", map[string]string{"RATE_LIMIT_WINDOW": "0s"}},
		{"redis without addr", map[string]string{"RATE_LIMIT_BACKEND": "redis"}},
		{"unknown analytics backend", map[string]string{"ANALYTICS_BACKEND": "mongo"}},
		{"clickhouse without dsn", map[string]string{"ANALYTICS_BACKEND": "clickhouse"}},
		{"unknown store backend", map[string]string{"STORE_BACKEND": "sqlite"}},
		{"bad duration", map[string]string{"RATE_LIMIT_WINDOW": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			assert.Error(t, err)
		})
	}
}
