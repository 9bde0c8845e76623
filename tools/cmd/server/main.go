package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/analytics"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/api"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/config"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/db"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/geoip"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/ratelimit"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/selectors"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

// stores groups the repositories behind the configured backend.
type stores struct {
	ads      models.AdRepository
	tracking models.TrackingRepository
	source   models.AnalyticsSource
	pinger   api.Pinger
	close    func()
}

func openStores(ctx context.Context, logger *zap.Logger, cfg config.Config) (*stores, error) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		mem := models.NewMemoryStore()
		return &stores{ads: mem, tracking: mem, source: mem, close: func() {}}, nil
	}

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres schema up to date")
	}
	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	return &stores{ads: pg, tracking: pg, source: pg, pinger: pg, close: pg.Close}, nil
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(ctx, logger, observability.TracingConfig{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.TempoEndpoint,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdownTracing()
	}

	st, err := openStores(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	metricsRegistry := observability.NewPrometheusRegistry()

	limiter, stopSweeper, err := newLimiter(ctx, logger, cfg, metricsRegistry)
	if err != nil {
		return err
	}
	defer stopSweeper()

	var sinks []tracking.EventSink
	source := st.source
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.OpenClickHouse(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		sinks = append(sinks, ch)
		if cfg.AnalyticsBackend == config.BackendClickHouse {
			source = ch
		}
	}

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Open(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	selector := selectors.NewRuleBasedSelector(st.ads, metricsRegistry)
	selector.SetLogger(logger)
	selector.SetFallbackEnabled(cfg.RecommendationFallback)

	pipeline := tracking.NewPipeline(st.tracking, limiter,
		tracking.BufferConfig{Threshold: cfg.ImpressionBatchSize, Interval: cfg.ImpressionFlushInterval},
		tracking.WithLogger(logger),
		tracking.WithMetrics(metricsRegistry),
		tracking.WithGeoIP(geoSvc),
		tracking.WithBotFiltering(cfg.FilterBots),
		tracking.WithSinks(sinks...),
	)
	// the flush loop outlives the signal context; Close stops it
	pipeline.Start(context.WithoutCancel(ctx))

	agg := analytics.NewAggregator(st.ads, source)
	agg.SetLogger(logger)

	srvDeps := api.NewServer(logger, selector, pipeline, agg, geoSvc, st.pinger, metricsRegistry)
	srvDeps.DebugTrace = cfg.DebugTrace

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(srvDeps.Router(), cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad server running",
		zap.String("addr", addr),
		zap.String("store", cfg.StoreBackend),
		zap.String("analytics", cfg.AnalyticsBackend),
		zap.Int("impression_batch_size", cfg.ImpressionBatchSize),
		zap.Duration("impression_flush_interval", cfg.ImpressionFlushInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	// stop the flush timer and persist whatever is still buffered
	if err := pipeline.Close(shutdownCtx); err != nil {
		logger.Error("final impression flush", zap.Error(err))
	}
	observability.LogSamplingStats(logger)
	logger.Info("server stopped")
	return serveErr
}

// newLimiter builds the configured rate limiter. The returned func stops any
// background maintenance.
func newLimiter(ctx context.Context, logger *zap.Logger, cfg config.Config, metrics observability.MetricsRegistry) (ratelimit.Limiter, func(), error) {
	rlCfg := ratelimit.Config{
		Window: cfg.RateLimitWindow,
		Ceilings: map[string]int{
			models.EventImpression: cfg.RateLimitImpressions,
			models.EventClick:      cfg.RateLimitClicks,
		},
		Enabled: cfg.RateLimitEnabled,
	}
	if cfg.ClickCeilingAboveImpressions() {
		logger.Warn("click ceiling exceeds impression ceiling",
			zap.Int("clicks", cfg.RateLimitClicks),
			zap.Int("impressions", cfg.RateLimitImpressions))
	}

	if cfg.RateLimitBackend == config.BackendRedis {
		store, err := db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		return ratelimit.NewRedisLimiter(store, rlCfg, metrics, logger), store.Close, nil
	}

	limiter := ratelimit.NewWindowLimiter(rlCfg, metrics)
	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	limiter.StartSweeper(sweepCtx, cfg.RateLimitSweepInterval, logger)
	return limiter, func() {
		cancel()
		for eventType, s := range limiter.Stats() {
			logger.Info("rate limit stats", zap.String("event_type", eventType), zap.Stringer("stats", s))
		}
	}, nil
}
