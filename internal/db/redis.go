package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps a redis client shared by the service instances.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis connects to Redis with tracing instrumentation and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	zap.L().Info("connected to redis", zap.String("addr", addr))
	return rs, nil
}

// IncrementWindow increments the counter at key and returns the new value.
// The first increment opens the window by setting a TTL of window, so the
// key disappears (and the count resets) when the window elapses.
func (r *RedisStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	val, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 {
		if err := r.Client.PExpire(ctx, key, window).Err(); err != nil {
			return val, fmt.Errorf("set window ttl: %w", err)
		}
	}
	return val, nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
