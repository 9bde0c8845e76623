package ratelimit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/db"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

const redisKeyPrefix = "ratelimit"

// RedisLimiter keeps windows in Redis so every service instance counts
// against the same ceiling. Redis errors allow the event.
type RedisLimiter struct {
	store   *db.RedisStore
	config  Config
	metrics observability.MetricsRegistry
	logger  *zap.Logger
}

// NewRedisLimiter creates a limiter backed by store.
func NewRedisLimiter(store *db.RedisStore, config Config, metrics observability.MetricsRegistry, logger *zap.Logger) *RedisLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{store: store, config: config, metrics: metrics, logger: logger}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, actorKey, eventType string) bool {
	if !l.config.Enabled {
		return true
	}
	ceiling, limited := l.config.Ceilings[eventType]
	if !limited {
		return true
	}
	l.metrics.IncrementRateLimitRequests(eventType)

	key := fmt.Sprintf("%s:%s:%s", redisKeyPrefix, eventType, actorKey)
	count, err := l.store.IncrementWindow(ctx, key, l.config.Window)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing event",
			zap.String("event_type", eventType),
			zap.Error(err))
		return true
	}
	if count > int64(ceiling) {
		l.metrics.IncrementRateLimitHits(eventType)
		return false
	}
	return true
}
