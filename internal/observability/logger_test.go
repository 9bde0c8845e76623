package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestShouldSampleBounds(t *testing.T) {
	assert.True(t, ShouldSample(1.0))
	assert.False(t, ShouldSample(0))
}

func TestLogSamplingStats(t *testing.T) {
	const rate = 0.37
	for i := 0; i < 200; i++ {
		ShouldSample(rate)
	}

	stats := GetSamplingStats()
	require.Contains(t, stats, rate)
	assert.GreaterOrEqual(t, stats[rate].Total, int64(200))
	assert.LessOrEqual(t, stats[rate].Sampled, stats[rate].Total)

	core, logs := observer.New(zapcore.InfoLevel)
	LogSamplingStats(zap.New(core))

	var found bool
	for _, entry := range logs.FilterMessage("sampling stats").All() {
		fields := entry.ContextMap()
		if fields["target_rate"] != rate {
			continue
		}
		found = true
		assert.GreaterOrEqual(t, fields["total_logs"], int64(200))
	}
	assert.True(t, found, "expected a sampling stats line for rate %v", rate)
}

func TestGetSamplingRate(t *testing.T) {
	t.Setenv("ENV", "development")
	assert.Equal(t, 1.0, GetSamplingRate())
	t.Setenv("ENV", "production")
	assert.Equal(t, 0.1, GetSamplingRate())
}
