package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store, rate limiter and analytics backends.
const (
	BackendMemory     = "memory"
	BackendRedis      = "redis"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// Config holds application configuration derived from environment variables.
// Unset variables take the envDefault values.
type Config struct {
	Port         string        `env:"PORT" envDefault:"8787"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ServiceName  string        `env:"SERVICE_NAME" envDefault:"leapads"`

	PostgresDSN       string        `env:"POSTGRES_DSN" envDefault:"postgres://postgres@127.0.0.1:5432/leap?sslmode=disable"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	RunMigrations     bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	StoreBackend      string        `env:"STORE_BACKEND" envDefault:"postgres"`

	// Optional backends, disabled when empty.
	RedisAddr     string `env:"REDIS_ADDR"`
	ClickHouseDSN string `env:"CLICKHOUSE_DSN"`
	GeoIPDB       string `env:"GEOIP_DB"`

	TracingEnabled    bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TempoEndpoint     string  `env:"TEMPO_ENDPOINT" envDefault:"tempo:4317"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`

	// Impression buffer
	ImpressionBatchSize     int           `env:"IMPRESSION_BATCH_SIZE" envDefault:"50"`
	ImpressionFlushInterval time.Duration `env:"IMPRESSION_FLUSH_INTERVAL" envDefault:"30s"`

	// Rate limiting
	RateLimitEnabled       bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitBackend       string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RateLimitWindow        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitImpressions   int           `env:"RATE_LIMIT_IMPRESSIONS" envDefault:"100"`
	RateLimitClicks        int           `env:"RATE_LIMIT_CLICKS" envDefault:"10"`
	RateLimitSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"5m"`

	RecommendationFallback bool   `env:"RECOMMENDATION_FALLBACK" envDefault:"true"`
	FilterBots             bool   `env:"FILTER_BOTS" envDefault:"true"`
	AnalyticsBackend       string `env:"ANALYTICS_BACKEND" envDefault:"postgres"`
	DebugTrace             bool   `env:"DEBUG_TRACE" envDefault:"false"`
}

// Load parses the process environment into a Config and validates it.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the tracking pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ImpressionBatchSize <= 0 {
		errs = append(errs, errors.New("IMPRESSION_BATCH_SIZE must be positive"))
	}
	if c.ImpressionFlushInterval <= 0 {
		errs = append(errs, errors.New("IMPRESSION_FLUSH_INTERVAL must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimitImpressions <= 0 || c.RateLimitClicks <= 0 {
		errs = append(errs, errors.New("rate limit ceilings must be positive"))
	}
	switch c.RateLimitBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("RATE_LIMIT_BACKEND=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.AnalyticsBackend {
	case BackendPostgres:
	case BackendClickHouse:
		if c.ClickHouseDSN == "" {
			errs = append(errs, errors.New("ANALYTICS_BACKEND=clickhouse requires CLICKHOUSE_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ANALYTICS_BACKEND %q", c.AnalyticsBackend))
	}
	return errors.Join(errs...)
}

// ClickCeilingAboveImpressions reports the odd but legal setup where a
// session may click more often than it may see ads.
func (c Config) ClickCeilingAboveImpressions() bool {
	return c.RateLimitClicks > c.RateLimitImpressions
}
