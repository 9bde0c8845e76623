// Ad Report Tool prints a performance report for one ad.
//
// Usage:
//
//	go run ./tools/ad_report -ad-id=123 -days=30
//
// The report reads from the configured analytics backend (Postgres, or
// ClickHouse when ANALYTICS_BACKEND=clickhouse) and includes totals, CTR,
// daily impressions, top placements and simple insights.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/analytics"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/config"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/db"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/reporting"
)

func main() {
	var (
		adID  = flag.Int64("ad-id", 0, "ad ID to report on")
		days  = flag.Int("days", 7, "number of days to include (0 for all time)")
		start = flag.String("start", "", "range start, RFC3339 or YYYY-MM-DD (overrides -days)")
		end   = flag.String("end", "", "range end, RFC3339 or YYYY-MM-DD")
	)
	flag.Parse()

	if *adID <= 0 {
		fmt.Fprintf(os.Stderr, "Error: ad-id is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger, err := observability.InitLoggerWithService("ad-report")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	r, err := reportRange(*start, *end, *days, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, 2, 1, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var source models.AnalyticsSource = pg
	if cfg.AnalyticsBackend == config.BackendClickHouse {
		ch, err := analytics.OpenClickHouse(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Fatal("connect clickhouse", zap.Error(err))
		}
		defer ch.Close()
		source = ch
	}

	ad, err := pg.GetAd(ctx, *adID)
	if err != nil {
		logger.Fatal("load ad", zap.Int64("ad_id", *adID), zap.Error(err))
	}
	agg := analytics.NewAggregator(pg, source)
	agg.SetLogger(logger)
	res, err := agg.GetAdAnalytics(ctx, *adID, r)
	if err != nil {
		logger.Fatal("generate report", zap.Int64("ad_id", *adID), zap.Error(err))
	}

	rep := reporting.Report{Ad: *ad, Analytics: *res, Range: r, GeneratedAt: time.Now()}
	if err := reporting.Write(os.Stdout, rep); err != nil {
		logger.Fatal("write report", zap.Error(err))
	}
}

// reportRange resolves the flags into a range. Explicit bounds win over
// -days, which counts back whole days from today.
func reportRange(start, end string, days int, now time.Time) (models.DateRange, error) {
	var (
		r   models.DateRange
		err error
	)
	if start != "" || end != "" {
		if r.Start, err = models.ParseDateBound(start, false); err != nil {
			return r, fmt.Errorf("start: %w", err)
		}
		if r.End, err = models.ParseDateBound(end, true); err != nil {
			return r, fmt.Errorf("end: %w", err)
		}
		return r, nil
	}
	if days > 0 {
		today := now.Truncate(24 * time.Hour)
		from := today.AddDate(0, 0, -(days - 1))
		r.Start = &from
	}
	return r, nil
}
