package analytics

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// TopPlacementsLimit is the number of placements returned in AdAnalytics.
const TopPlacementsLimit = 10

// ErrInvalidRange is returned when the start of a date range is after its end.
var ErrInvalidRange = errors.New("analytics start date is after end date")

// Aggregator builds per-ad analytics from persisted tracking rows. It never
// writes, so repeated calls over unchanged data return identical results.
type Aggregator struct {
	ads    models.AdRepository
	source models.AnalyticsSource
	logger *zap.Logger
}

// NewAggregator reads ad existence from ads and event rows from source.
func NewAggregator(ads models.AdRepository, source models.AnalyticsSource) *Aggregator {
	return &Aggregator{ads: ads, source: source, logger: zap.NewNop()}
}

// SetLogger sets the logger used for query failures.
func (a *Aggregator) SetLogger(l *zap.Logger) {
	if l != nil {
		a.logger = l
	}
}

// GetAdAnalytics counts impressions, clicks and distinct users for adID in
// r, buckets impressions by day, and lists the busiest placements. The five
// queries run concurrently; the first failure cancels the rest.
func (a *Aggregator) GetAdAnalytics(ctx context.Context, adID int64, r models.DateRange) (*models.AdAnalytics, error) {
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return nil, ErrInvalidRange
	}
	if _, err := a.ads.GetAd(ctx, adID); err != nil {
		return nil, err
	}

	out := &models.AdAnalytics{AdID: adID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.source.CountImpressions(gctx, adID, r)
		if err != nil {
			return fmt.Errorf("count impressions: %w", err)
		}
		out.TotalImpressions = n
		return nil
	})
	g.Go(func() error {
		n, err := a.source.CountClicks(gctx, adID, r)
		if err != nil {
			return fmt.Errorf("count clicks: %w", err)
		}
		out.TotalClicks = n
		return nil
	})
	g.Go(func() error {
		n, err := a.source.CountUniqueUsers(gctx, adID, r)
		if err != nil {
			return fmt.Errorf("count unique users: %w", err)
		}
		out.UniqueUsers = n
		return nil
	})
	g.Go(func() error {
		days, err := a.source.DailyImpressions(gctx, adID, r)
		if err != nil {
			return fmt.Errorf("daily impressions: %w", err)
		}
		out.DailyStats = days
		return nil
	})
	g.Go(func() error {
		top, err := a.source.TopPlacements(gctx, adID, r, TopPlacementsLimit)
		if err != nil {
			return fmt.Errorf("top placements: %w", err)
		}
		out.TopPlacements = top
		return nil
	})
	if err := g.Wait(); err != nil {
		a.logger.Error("ad analytics query failed", zap.Int64("ad_id", adID), zap.Error(err))
		return nil, err
	}

	out.CTR = models.ComputeCTR(out.TotalImpressions, out.TotalClicks)
	if out.DailyStats == nil {
		out.DailyStats = []models.DailyStat{}
	}
	if out.TopPlacements == nil {
		out.TopPlacements = []models.PlacementStat{}
	}
	return out, nil
}
