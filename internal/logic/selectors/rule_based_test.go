package selectors

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

var testNow = time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

type fixture struct {
	store    *models.MemoryStore
	selector *RuleBasedSelector
	metrics  *observability.MockMetricsRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := models.NewMemoryStore()
	metrics := observability.NewMockMetricsRegistry()
	sel := NewRuleBasedSelector(store, metrics)
	sel.SetClock(func() time.Time { return testNow })
	return &fixture{store: store, selector: sel, metrics: metrics}
}

func (f *fixture) add(t *testing.T, ad models.Ad, rules *models.TargetingRules) models.Ad {
	t.Helper()
	if ad.Status == "" {
		ad.Status = models.StatusActive
	}
	if ad.PlacementType == "" {
		ad.PlacementType = "homepage"
	}
	if ad.StartDate.IsZero() {
		ad.StartDate = testNow.Add(-24 * time.Hour)
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = testNow.Add(-24 * time.Hour)
	}
	stored, err := f.store.AddAd(ad, rules)
	require.NoError(t, err)
	return stored
}

func ids(ads []models.Ad) []int64 {
	out := make([]int64, len(ads))
	for i, a := range ads {
		out[i] = a.ID
	}
	return out
}

func TestGetActiveAdsPriorityOrder(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, models.Ad{Priority: 5}, nil)
	b := f.add(t, models.Ad{Priority: 10}, nil)

	ads, err := f.selector.GetActiveAds(context.Background(), "homepage", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID}, ids(ads))
	assert.Equal(t, []int{2}, f.metrics.Selections["active"])
}

func TestGetActiveAdsEligibility(t *testing.T) {
	f := newFixture(t)
	yesterday := testNow.Add(-24 * time.Hour)
	live := f.add(t, models.Ad{Priority: 1}, nil)
	f.add(t, models.Ad{Priority: 9, Status: models.StatusPaused}, nil)
	f.add(t, models.Ad{Priority: 9, StartDate: testNow.Add(time.Hour)}, nil)
	f.add(t, models.Ad{Priority: 9, StartDate: yesterday.Add(-time.Hour), EndDate: &yesterday}, nil)
	f.add(t, models.Ad{Priority: 9, PlacementType: "sidebar"}, nil)
	deleted := f.add(t, models.Ad{Priority: 9}, nil)
	require.NoError(t, f.store.SoftDeleteAd(deleted.ID))

	ads, err := f.selector.GetActiveAds(context.Background(), "homepage", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{live.ID}, ids(ads))
}

func TestGetActiveAdsTieBreakNewerFirst(t *testing.T) {
	f := newFixture(t)
	older := f.add(t, models.Ad{Priority: 3, CreatedAt: testNow.Add(-48 * time.Hour)}, nil)
	newer := f.add(t, models.Ad{Priority: 3, CreatedAt: testNow.Add(-time.Hour)}, nil)

	ads, err := f.selector.GetActiveAds(context.Background(), "homepage", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{newer.ID, older.ID}, ids(ads))
}

func TestGetActiveAdsEmptyPlacement(t *testing.T) {
	f := newFixture(t)
	f.add(t, models.Ad{Priority: 5}, nil)
	for _, code := range []string{"nowhere", ""} {
		ads, err := f.selector.GetActiveAds(context.Background(), code, 5, nil)
		require.NoError(t, err)
		assert.NotNil(t, ads)
		assert.Empty(t, ads, "placement %q", code)
	}
}

func TestGetTargetedAdsFiltersAndRanks(t *testing.T) {
	f := newFixture(t)
	f.selector.SetFallbackEnabled(false)

	adminOnly := f.add(t, models.Ad{Priority: 10}, &models.TargetingRules{Roles: []string{"admin"}})
	open := f.add(t, models.Ad{Priority: 5}, nil)
	// same priority as open; two satisfied clauses outrank zero
	precise := f.add(t, models.Ad{Priority: 5, CreatedAt: testNow.Add(-72 * time.Hour)}, &models.TargetingRules{
		Roles:     []string{"student"},
		Locations: []string{"EG"},
	})
	ageGated := f.add(t, models.Ad{Priority: 7}, &models.TargetingRules{AgeRange: &models.AgeRange{Min: intPtr(18), Max: intPtr(30)}})

	profile := models.UserProfile{Role: "student", Location: "EG"}
	var trace logic.SelectionTrace
	ads, err := f.selector.GetTargetedAds(context.Background(), "homepage", profile, 5, &trace)
	require.NoError(t, err)
	assert.Equal(t, []int64{precise.ID, open.ID}, ids(ads))

	require.GreaterOrEqual(t, len(trace.Steps), 3)
	assert.Equal(t, logic.StageCandidates, trace.Steps[0].Stage)
	assert.Len(t, trace.Steps[0].AdIDs, 4)
	targeting := trace.Steps[1]
	assert.Equal(t, logic.StageTargeting, targeting.Stage)
	assert.Equal(t, logic.ClauseRole, targeting.Details[itoa(adminOnly.ID)])
	assert.Equal(t, logic.ClauseAge, targeting.Details[itoa(ageGated.ID)])
}

func TestGetTargetedAdsFallbackBackfills(t *testing.T) {
	f := newFixture(t)
	matched := f.add(t, models.Ad{Priority: 1}, &models.TargetingRules{Interests: []string{"go"}})
	popular := f.add(t, models.Ad{Priority: 1, ImpressionCount: 1000, ClickCount: 200}, &models.TargetingRules{Roles: []string{"admin"}})
	related := f.add(t, models.Ad{Priority: 1, Category: "design"}, &models.TargetingRules{Roles: []string{"admin"}})
	f.add(t, models.Ad{Priority: 50, Status: models.StatusPaused}, nil)

	profile := models.UserProfile{Role: "student", Interests: []string{"go", "Design"}}
	var trace logic.SelectionTrace
	ads, err := f.selector.GetTargetedAds(context.Background(), "homepage", profile, 3, &trace)
	require.NoError(t, err)
	assert.Equal(t, []int64{matched.ID, related.ID, popular.ID}, ids(ads))

	var fallback *logic.TraceStep
	for i := range trace.Steps {
		if trace.Steps[i].Stage == logic.StageFallback {
			fallback = &trace.Steps[i]
		}
	}
	require.NotNil(t, fallback)
	assert.Equal(t, []int64{related.ID, popular.ID}, fallback.AdIDs)
}

func TestGetTargetedAdsLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.add(t, models.Ad{Priority: i}, nil)
	}
	ads, err := f.selector.GetTargetedAds(context.Background(), "homepage", models.UserProfile{}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, ads, 2)
	assert.Equal(t, 3, ads[0].Priority)
}

type notFoundRules struct {
	*models.MemoryStore
}

func (n notFoundRules) GetTargetingRules(ctx context.Context, ids []int64) (map[int64]*models.TargetingRules, error) {
	return nil, models.ErrNotFound
}

type brokenRules struct {
	*models.MemoryStore
}

func (b brokenRules) GetTargetingRules(ctx context.Context, ids []int64) (map[int64]*models.TargetingRules, error) {
	return nil, errors.New("connection reset")
}

func TestGetTargetedAdsRulesNotFoundIsNoMatch(t *testing.T) {
	f := newFixture(t)
	f.add(t, models.Ad{Priority: 1}, nil)

	sel := NewRuleBasedSelector(notFoundRules{f.store}, nil)
	sel.SetClock(func() time.Time { return testNow })
	sel.SetFallbackEnabled(false)
	ads, err := sel.GetTargetedAds(context.Background(), "homepage", models.UserProfile{}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, ads)

	sel = NewRuleBasedSelector(brokenRules{f.store}, nil)
	sel.SetClock(func() time.Time { return testNow })
	_, err = sel.GetTargetedAds(context.Background(), "homepage", models.UserProfile{}, 5, nil)
	assert.Error(t, err)
}

func TestRankRecommendations(t *testing.T) {
	ads := []models.Ad{
		{ID: 1, ImpressionCount: 0, ClickCount: 0},
		{ID: 2, ImpressionCount: 900, ClickCount: 90},
		{ID: 3, Category: "go"},
	}
	ranked := RankRecommendations(ads, models.UserProfile{Interests: []string{"GO"}})
	assert.Equal(t, []int64{3, 2, 1}, ids(ranked))
	assert.Equal(t, int64(1), ads[0].ID, "input must not be reordered")
}

func TestSmoothedCTR(t *testing.T) {
	assert.InDelta(t, 0.01, SmoothedCTR(0, 0), 1e-9)
	assert.InDelta(t, (50+1.0)/(100+100.0), SmoothedCTR(100, 50), 1e-9)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(500))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
