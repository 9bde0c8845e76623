package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

// Limiter answers whether an actor may record another event of a type.
// Over-limit is a normal outcome signalled by false, never an error.
type Limiter interface {
	Allow(ctx context.Context, actorKey, eventType string) bool
}

// Config holds the rate limiting configuration.
type Config struct {
	Window   time.Duration  // length of a counting window
	Ceilings map[string]int // max events per window by event type
	Enabled  bool           // false allows everything
}

// DefaultConfig returns the stock ceilings: 100 impressions and 10 clicks per
// minute.
func DefaultConfig() Config {
	return Config{
		Window: time.Minute,
		Ceilings: map[string]int{
			models.EventImpression: 100,
			models.EventClick:      10,
		},
		Enabled: true,
	}
}

type windowKey struct {
	actor     string
	eventType string
}

type counters struct {
	total atomic.Int64
	hits  atomic.Int64
}

// WindowLimiter is the in-process Limiter. Windows are created lazily and
// removed by Sweep once they have elapsed.
//
// Example usage:
//
//	limiter := NewWindowLimiter(DefaultConfig(), observability.NewPrometheusRegistry())
//	if !limiter.Allow(ctx, "session-123", models.EventImpression) {
//	    // session-123 is over its impression ceiling for this window
//	}
type WindowLimiter struct {
	windows map[windowKey]*Window
	mu      sync.RWMutex // protects the windows map
	config  Config
	stats   map[string]*counters // fixed at construction
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// Option customises a WindowLimiter.
type Option func(*WindowLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *WindowLimiter) { l.now = now }
}

// NewWindowLimiter creates an in-process limiter.
func NewWindowLimiter(config Config, metrics observability.MetricsRegistry, opts ...Option) *WindowLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	l := &WindowLimiter{
		windows: make(map[windowKey]*Window),
		config:  config,
		stats:   make(map[string]*counters, len(config.Ceilings)),
		metrics: metrics,
		now:     time.Now,
	}
	for eventType := range config.Ceilings {
		l.stats[eventType] = &counters{}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one event for actorKey and reports whether it is within the
// ceiling for eventType. Event types without a configured ceiling are not
// limited.
func (l *WindowLimiter) Allow(_ context.Context, actorKey, eventType string) bool {
	if !l.config.Enabled {
		return true
	}
	ceiling, limited := l.config.Ceilings[eventType]
	if !limited {
		return true
	}

	l.metrics.IncrementRateLimitRequests(eventType)
	c := l.stats[eventType]
	c.total.Add(1)

	key := windowKey{actor: actorKey, eventType: eventType}
	for {
		w := l.window(key)
		allowed, ok := w.consume(l.now(), l.config.Window, ceiling)
		if !ok {
			continue
		}
		if !allowed {
			c.hits.Add(1)
			l.metrics.IncrementRateLimitHits(eventType)
		}
		return allowed
	}
}

func (l *WindowLimiter) window(key windowKey) *Window {
	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()
	if exists {
		return w
	}

	// double-checked so concurrent first events share one window
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, exists = l.windows[key]; !exists {
		w = &Window{}
		l.windows[key] = w
	}
	return w
}

// Sweep removes windows that have elapsed and returns how many were removed.
func (l *WindowLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if w.retireIfExpired(now, l.config.Window) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (l *WindowLimiter) StartSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					logger.Debug("rate limit windows swept", zap.Int("removed", n))
				}
			}
		}
	}()
}

// ActiveWindows returns the number of windows currently held.
func (l *WindowLimiter) ActiveWindows() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Stats returns a snapshot of rate limiting activity per event type.
func (l *WindowLimiter) Stats() map[string]RateLimitStats {
	stats := make(map[string]RateLimitStats, len(l.stats))
	for eventType, c := range l.stats {
		hits, total := c.hits.Load(), c.total.Load()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[eventType] = RateLimitStats{
			EventType: eventType,
			Hits:      hits,
			Total:     total,
			HitRate:   hitRate,
		}
	}
	return stats
}

// RateLimitStats contains rate limiting statistics for one event type.
type RateLimitStats struct {
	EventType string  `json:"eventType"`
	Hits      int64   `json:"hits"`    // rejected events
	Total     int64   `json:"total"`   // checked events
	HitRate   float64 `json:"hitRate"` // 0.0-1.0
}

// String returns a human-readable representation of the statistics.
func (s RateLimitStats) String() string {
	return fmt.Sprintf("%s: %d/%d limited (%.2f%%)", s.EventType, s.Hits, s.Total, s.HitRate*100)
}

// ActorKey picks the rate limit identity for an event: the user when known,
// otherwise the session.
func ActorKey(userID *int64, sessionID string) string {
	if userID != nil {
		return fmt.Sprintf("user:%d", *userID)
	}
	return "session:" + sessionID
}
