package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig(impressions, clicks int) Config {
	return Config{
		Window: time.Minute,
		Ceilings: map[string]int{
			models.EventImpression: impressions,
			models.EventClick:      clicks,
		},
		Enabled: true,
	}
}

func TestWindowLimiterCeilingAndReset(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewWindowLimiter(testConfig(5, 2), observability.NewNoOpRegistry(), WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "s1", models.EventImpression), "call %d", i+1)
	}
	assert.False(t, l.Allow(ctx, "s1", models.EventImpression))

	// just short of the window the limit still applies
	clock.Advance(59 * time.Second)
	assert.False(t, l.Allow(ctx, "s1", models.EventImpression))

	clock.Advance(time.Second)
	assert.True(t, l.Allow(ctx, "s1", models.EventImpression))
}

func TestWindowLimiterSeparatesActorsAndTypes(t *testing.T) {
	ctx := context.Background()
	l := NewWindowLimiter(testConfig(1, 1), nil)

	assert.True(t, l.Allow(ctx, "a", models.EventImpression))
	assert.False(t, l.Allow(ctx, "a", models.EventImpression))
	assert.True(t, l.Allow(ctx, "a", models.EventClick))
	assert.True(t, l.Allow(ctx, "b", models.EventImpression))
}

func TestWindowLimiterSixtyImpressionsCeilingFifty(t *testing.T) {
	ctx := context.Background()
	l := NewWindowLimiter(testConfig(50, 10), nil)

	accepted := 0
	for i := 0; i < 60; i++ {
		if l.Allow(ctx, "session-x", models.EventImpression) {
			accepted++
		}
	}
	assert.Equal(t, 50, accepted)

	stats := l.Stats()[models.EventImpression]
	assert.Equal(t, int64(60), stats.Total)
	assert.Equal(t, int64(10), stats.Hits)
	assert.InDelta(t, 10.0/60.0, stats.HitRate, 1e-9)
}

func TestWindowLimiterDisabledAndUnknownType(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1, 1)
	cfg.Enabled = false
	l := NewWindowLimiter(cfg, nil)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "s", models.EventClick))
	}

	l = NewWindowLimiter(testConfig(1, 1), nil)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, "s", "conversion"))
	}
}

func TestWindowLimiterConcurrentActor(t *testing.T) {
	ctx := context.Background()
	l := NewWindowLimiter(testConfig(100, 10), nil)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.Allow(ctx, "shared", models.EventImpression) {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), allowed.Load())
}

func TestWindowLimiterSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewWindowLimiter(testConfig(2, 2), nil, WithClock(clock.Now))

	l.Allow(ctx, "a", models.EventImpression)
	clock.Advance(30 * time.Second)
	l.Allow(ctx, "b", models.EventImpression)
	require.Equal(t, 2, l.ActiveWindows())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.ActiveWindows())

	// a swept actor starts over with a fresh window
	assert.True(t, l.Allow(ctx, "a", models.EventImpression))
	assert.True(t, l.Allow(ctx, "a", models.EventImpression))
	assert.False(t, l.Allow(ctx, "a", models.EventImpression))
}

func TestWindowLimiterSweeperNilLogger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewWindowLimiter(testConfig(2, 2), nil, WithClock(clock.Now))

	l.Allow(ctx, "a", models.EventImpression)
	clock.Advance(2 * time.Minute)

	l.StartSweeper(ctx, 5*time.Millisecond, nil)
	require.Eventually(t, func() bool { return l.ActiveWindows() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWindowLimiterMetrics(t *testing.T) {
	ctx := context.Background()
	m := observability.NewMockMetricsRegistry()
	l := NewWindowLimiter(testConfig(1, 1), m)

	l.Allow(ctx, "s", models.EventClick)
	l.Allow(ctx, "s", models.EventClick)

	assert.Equal(t, 2, m.RateLimitChecks[models.EventClick])
	assert.Equal(t, 1, m.RateLimitHits[models.EventClick])
}

func TestActorKey(t *testing.T) {
	uid := int64(42)
	assert.Equal(t, "user:42", ActorKey(&uid, "sess"))
	assert.Equal(t, "session:sess", ActorKey(nil, "sess"))
}
