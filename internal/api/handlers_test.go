package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/analytics"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/ratelimit"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/selectors"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

type testEnv struct {
	srv     *Server
	store   *models.MemoryStore
	router  http.Handler
	metrics *observability.MockMetricsRegistry
	adA     int64
	adB     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := models.NewMemoryStore()
	yesterday := time.Now().Add(-24 * time.Hour)
	a, err := store.AddAd(models.Ad{AdType: models.AdTypeCourse, PlacementType: "homepage", Priority: 5, Status: models.StatusActive, StartDate: yesterday}, nil)
	require.NoError(t, err)
	b, err := store.AddAd(models.Ad{AdType: models.AdTypeEvent, PlacementType: "homepage", Priority: 10, Status: models.StatusActive, StartDate: yesterday},
		&models.TargetingRules{Roles: []string{"instructor"}})
	require.NoError(t, err)

	metrics := observability.NewMockMetricsRegistry()
	limiter := ratelimit.NewWindowLimiter(ratelimit.Config{
		Window:   time.Minute,
		Ceilings: map[string]int{models.EventImpression: 50, models.EventClick: 2},
		Enabled:  true,
	}, metrics)
	pipeline := tracking.NewPipeline(store, limiter, tracking.BufferConfig{Threshold: 1000, Interval: time.Hour},
		tracking.WithMetrics(metrics), tracking.WithBotFiltering(true))
	t.Cleanup(func() { _ = pipeline.Close(context.Background()) })

	selector := selectors.NewRuleBasedSelector(store, metrics)
	selector.SetFallbackEnabled(false)
	srv := NewServer(nil, selector, pipeline, analytics.NewAggregator(store, store), nil, nil, metrics)
	return &testEnv{srv: srv, store: store, router: srv.Router(), metrics: metrics, adA: a.ID, adB: b.ID}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(v))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func adIDs(ads []models.Ad) []int64 {
	ids := make([]int64, len(ads))
	for i, ad := range ads {
		ids[i] = ad.ID
	}
	return ids
}

func TestActiveAdsHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ads/active?placement=homepage&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[adsResponse](t, rec)
	assert.Equal(t, []int64{env.adB, env.adA}, adIDs(resp.Ads))
	assert.Nil(t, resp.Debug)
}

func TestActiveAdsHandlerDebugTrace(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ads/active?placement=homepage&debug=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Debug struct {
			Trace logic.SelectionTrace `json:"trace"`
		} `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Debug.Trace.Steps)
	assert.Equal(t, logic.StageCandidates, resp.Debug.Trace.Steps[0].Stage)
}

func TestActiveAdsHandlerValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ads/active", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "placement", decode[errorResponse](t, rec).Field)

	rec = env.do(t, http.MethodGet, "/ads/active?placement=homepage&limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTargetedAdsHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/ads/targeted", map[string]any{
		"placementCode": "homepage",
		"userProfile":   map[string]any{"role": "student"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{env.adA}, adIDs(decode[adsResponse](t, rec).Ads))

	rec = env.do(t, http.MethodPost, "/ads/targeted", map[string]any{
		"placementCode": "homepage",
		"userProfile":   map[string]any{"role": "instructor"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{env.adB, env.adA}, adIDs(decode[adsResponse](t, rec).Ads))
}

func TestTrackImpressionHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/ads/track/impression", map[string]any{
		"adId": env.adA, "placementCode": "homepage", "sessionId": "sess-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[tracking.TrackResult](t, rec)
	assert.True(t, res.Success)
	assert.NotNil(t, res.ImpressionID)
	assert.Equal(t, 1, env.srv.Pipeline.Buffer().Len())

	rec = env.do(t, http.MethodPost, "/ads/track/impression", map[string]any{"adId": env.adA})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sessionId", decode[errorResponse](t, rec).Field)

	rec = env.do(t, http.MethodPost, "/ads/track/impression", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackBulkImpressionsHandler(t *testing.T) {
	env := newTestEnv(t)
	events := []map[string]any{
		{"adId": env.adA, "sessionId": "s"},
		{"adId": env.adB, "sessionId": "s"},
	}

	rec := env.do(t, http.MethodPost, "/ads/track/impressions/bulk", map[string]any{"impressions": events})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[tracking.TrackResult](t, rec).Accepted)

	rec = env.do(t, http.MethodPost, "/ads/track/impressions/bulk", events)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, env.srv.Pipeline.Buffer().Len())

	rec = env.do(t, http.MethodPost, "/ads/track/impressions/bulk", []any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackClickHandler(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"adId": env.adA, "sessionId": "s", "destinationUrl": "https://leap.example/courses/1"}

	rec := env.do(t, http.MethodPost, "/ads/track/click", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode[tracking.TrackResult](t, rec).ClickID)
	require.Len(t, env.store.Clicks(), 1)
	assert.Equal(t, "203.0.113.9", env.store.Clicks()[0].IPAddress)

	env.do(t, http.MethodPost, "/ads/track/click", body)
	rec = env.do(t, http.MethodPost, "/ads/track/click", body)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[tracking.TrackResult](t, rec)
	assert.True(t, res.RateLimited)
	assert.False(t, res.Success)
}

func TestTrackClickHandlerPersistenceError(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetClickError(errors.New("connection reset"))

	rec := env.do(t, http.MethodPost, "/ads/track/click", map[string]any{"adId": env.adA, "sessionId": "s"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestAdAnalyticsHandler(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 4; i++ {
		env.do(t, http.MethodPost, "/ads/track/impression", map[string]any{"adId": env.adA, "placementCode": "homepage", "sessionId": "s"})
	}
	env.do(t, http.MethodPost, "/ads/track/click", map[string]any{"adId": env.adA, "sessionId": "s"})
	_, err := env.srv.Pipeline.Buffer().Flush(context.Background())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/ads/"+itoa(env.adA)+"/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.AdAnalytics](t, rec)
	assert.Equal(t, int64(4), got.TotalImpressions)
	assert.Equal(t, int64(1), got.TotalClicks)
	assert.Equal(t, 0.25, got.CTR)
	require.Len(t, got.TopPlacements, 1)
	assert.Equal(t, "homepage", got.TopPlacements[0].PlacementCode)

	today := time.Now().UTC().Format(models.DayLayout)
	rec = env.do(t, http.MethodGet, "/ads/"+itoa(env.adA)+"/analytics?startDate="+today+"&endDate="+today, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4), decode[models.AdAnalytics](t, rec).TotalImpressions)
}

func TestAdAnalyticsHandlerErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ads/999/analytics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/ads/"+itoa(env.adA)+"/analytics?startDate=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "startDate", decode[errorResponse](t, rec).Field)

	rec = env.do(t, http.MethodGet, "/ads/"+itoa(env.adA)+"/analytics?startDate=2026-02-01&endDate=2026-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateTargetingHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/ads/targeting/validate", `{"roles":["student"],"ageRange":{"min":18,"max":30}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[logic.ValidationResult](t, rec).Valid)

	rec = env.do(t, http.MethodPost, "/ads/targeting/validate", `{"ageRange":{"min":40,"max":30}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[logic.ValidationResult](t, rec)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 1)

	rec = env.do(t, http.MethodPost, "/ads/targeting/validate", `{"colour":"red"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[logic.ValidationResult](t, rec).Errors, `unknown field "colour"`)
}

func TestHealthHandlers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.do(t, http.MethodGet, "/health/db", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "memory")

	env.srv.DB = failingPinger{}
	rec = env.do(t, http.MethodGet, "/health/db", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("dial tcp: refused") }

func TestRequestMetricsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, 1, env.metrics.Requests["health GET 200"])
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
