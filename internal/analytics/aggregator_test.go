package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

var day0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) (*models.MemoryStore, int64) {
	t.Helper()
	ctx := context.Background()
	store := models.NewMemoryStore()
	ad, err := store.AddAd(models.Ad{
		AdType:        models.AdTypeCourse,
		PlacementType: "homepage",
		Status:        models.StatusActive,
		StartDate:     day0.Add(-24 * time.Hour),
	}, nil)
	require.NoError(t, err)

	imp := func(offset time.Duration, user *int64, placement *string) models.Impression {
		return models.Impression{ID: uuid.New(), AdID: ad.ID, UserID: user, SessionID: "s", PlacementCode: placement, CreatedAt: day0.Add(offset)}
	}
	require.NoError(t, store.InsertImpressions(ctx, []models.Impression{
		imp(0, i64Ptr(1), strPtr("homepage")),
		imp(time.Hour, i64Ptr(1), strPtr("homepage")),
		imp(2*time.Hour, i64Ptr(2), strPtr("sidebar")),
		imp(24*time.Hour, nil, strPtr("homepage")),
		imp(25*time.Hour, i64Ptr(3), nil),
		imp(48*time.Hour, i64Ptr(2), strPtr("sidebar")),
	}))
	for _, off := range []time.Duration{time.Hour, 26 * time.Hour} {
		require.NoError(t, store.InsertClick(ctx, models.Click{ID: uuid.New(), AdID: ad.ID, SessionID: "s", CreatedAt: day0.Add(off)}))
	}
	return store, ad.ID
}

func TestGetAdAnalyticsAllTime(t *testing.T) {
	store, adID := seedStore(t)
	agg := NewAggregator(store, store)

	got, err := agg.GetAdAnalytics(context.Background(), adID, models.DateRange{})
	require.NoError(t, err)

	assert.Equal(t, adID, got.AdID)
	assert.Equal(t, int64(6), got.TotalImpressions)
	assert.Equal(t, int64(2), got.TotalClicks)
	assert.Equal(t, 0.3333, got.CTR)
	assert.Equal(t, int64(3), got.UniqueUsers)
	assert.Equal(t, []models.DailyStat{
		{Date: "2026-03-01", Impressions: 3},
		{Date: "2026-03-02", Impressions: 2},
		{Date: "2026-03-03", Impressions: 1},
	}, got.DailyStats)
	assert.Equal(t, []models.PlacementStat{
		{PlacementCode: "homepage", Impressions: 3},
		{PlacementCode: "sidebar", Impressions: 2},
	}, got.TopPlacements)
}

func TestGetAdAnalyticsWindow(t *testing.T) {
	store, adID := seedStore(t)
	agg := NewAggregator(store, store)

	start := day0.Add(24 * time.Hour)
	got, err := agg.GetAdAnalytics(context.Background(), adID, models.DateRange{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalImpressions)
	assert.Equal(t, int64(1), got.TotalClicks)
	assert.Equal(t, int64(2), got.UniqueUsers)

	end := day0.Add(30 * time.Minute)
	got, err = agg.GetAdAnalytics(context.Background(), adID, models.DateRange{End: &end})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalImpressions)
	assert.Zero(t, got.TotalClicks)
	assert.Zero(t, got.CTR)
}

func TestGetAdAnalyticsIdempotent(t *testing.T) {
	store, adID := seedStore(t)
	agg := NewAggregator(store, store)
	start, end := day0, day0.Add(72*time.Hour)
	r := models.DateRange{Start: &start, End: &end}

	first, err := agg.GetAdAnalytics(context.Background(), adID, r)
	require.NoError(t, err)
	second, err := agg.GetAdAnalytics(context.Background(), adID, r)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetAdAnalyticsEmpty(t *testing.T) {
	store := models.NewMemoryStore()
	ad, err := store.AddAd(models.Ad{AdType: models.AdTypeJob, PlacementType: "sidebar", Status: models.StatusActive, StartDate: day0}, nil)
	require.NoError(t, err)

	got, err := NewAggregator(store, store).GetAdAnalytics(context.Background(), ad.ID, models.DateRange{})
	require.NoError(t, err)
	assert.NotNil(t, got.DailyStats)
	assert.NotNil(t, got.TopPlacements)
	assert.Zero(t, got.CTR)
}

func TestGetAdAnalyticsUnknownAd(t *testing.T) {
	store := models.NewMemoryStore()
	_, err := NewAggregator(store, store).GetAdAnalytics(context.Background(), 404, models.DateRange{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetAdAnalyticsInvalidRange(t *testing.T) {
	store, adID := seedStore(t)
	start, end := day0, day0.Add(-time.Hour)
	_, err := NewAggregator(store, store).GetAdAnalytics(context.Background(), adID, models.DateRange{Start: &start, End: &end})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

type failingSource struct {
	models.AnalyticsSource
	err error
}

func (f failingSource) CountClicks(ctx context.Context, adID int64, r models.DateRange) (int64, error) {
	return 0, f.err
}

func TestGetAdAnalyticsSourceError(t *testing.T) {
	store, adID := seedStore(t)
	boom := errors.New("query timeout")
	agg := NewAggregator(store, failingSource{AnalyticsSource: store, err: boom})

	_, err := agg.GetAdAnalytics(context.Background(), adID, models.DateRange{})
	assert.ErrorIs(t, err, boom)
}

func TestClickHouseUnavailable(t *testing.T) {
	var ch *ClickHouse
	ctx := context.Background()

	assert.ErrorIs(t, ch.RecordClick(ctx, models.Click{}), ErrUnavailable)
	assert.ErrorIs(t, ch.RecordImpressions(ctx, []models.Impression{{}}), ErrUnavailable)
	_, err := ch.CountImpressions(ctx, 1, models.DateRange{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = ch.TopPlacements(ctx, 1, models.DateRange{}, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	ch.Close()
}

func TestEventFilter(t *testing.T) {
	start := day0
	where, args := eventFilter(7, models.EventClick, models.DateRange{Start: &start})
	assert.Equal(t, " WHERE ad_id = ? AND event_type = ? AND timestamp >= ?", where)
	assert.Equal(t, []any{int64(7), models.EventClick, day0}, args)
}

func TestImpressionRowMapping(t *testing.T) {
	imp := models.Impression{
		ID: uuid.New(), AdID: 3, UserID: i64Ptr(9), SessionID: "s", PlacementCode: strPtr("feed"),
		Metadata: map[string]string{models.MetaDeviceType: "mobile", models.MetaCountry: "EG"}, CreatedAt: day0,
	}
	row := impressionRow(imp)
	assert.Equal(t, models.EventImpression, row.eventType)
	assert.Equal(t, "feed", row.placementCode.String)
	assert.True(t, row.userID.Valid)
	assert.Equal(t, "mobile", row.deviceType)
	assert.Equal(t, "EG", row.country)
}
