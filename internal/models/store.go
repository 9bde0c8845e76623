package models

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an ad or its targeting rules do not exist
// (or are soft-deleted).
var ErrNotFound = errors.New("entity not found")

// AdRepository reads ads and their targeting rules. Implementations apply
// the soft-delete predicate themselves; callers only see live rows.
type AdRepository interface {
	// ListActiveAds returns servable ads for the placement at now, ordered by
	// priority descending then creation time descending. The placement code
	// is matched exactly, so an empty code matches nothing.
	ListActiveAds(ctx context.Context, placementCode string, now time.Time) ([]Ad, error)
	GetAd(ctx context.Context, id int64) (*Ad, error)
	// GetTargetingRules returns the rule sets that exist for the given ads.
	// Ads without rules are absent from the map.
	GetTargetingRules(ctx context.Context, adIDs []int64) (map[int64]*TargetingRules, error)
}

// TrackingRepository persists tracking rows and maintains ad counters.
type TrackingRepository interface {
	// InsertImpressions writes the batch as a single multi-row insert,
	// preserving order.
	InsertImpressions(ctx context.Context, batch []Impression) error
	InsertClick(ctx context.Context, click Click) error
	// UpdateAdStats applies counter increments atomically at the storage
	// layer (count = count + n).
	UpdateAdStats(ctx context.Context, deltas map[int64]CounterDelta) error
}

// AnalyticsSource answers the aggregate queries behind ad analytics. All
// methods are read-only and honour the optional date range.
type AnalyticsSource interface {
	CountImpressions(ctx context.Context, adID int64, r DateRange) (int64, error)
	CountClicks(ctx context.Context, adID int64, r DateRange) (int64, error)
	CountUniqueUsers(ctx context.Context, adID int64, r DateRange) (int64, error)
	// DailyImpressions buckets impressions by UTC calendar day, ascending.
	DailyImpressions(ctx context.Context, adID int64, r DateRange) ([]DailyStat, error)
	// TopPlacements groups impressions with a placement code, count descending.
	TopPlacements(ctx context.Context, adID int64, r DateRange, limit int) ([]PlacementStat, error)
}

// DayLayout formats DailyStat dates.
const DayLayout = "2006-01-02"
