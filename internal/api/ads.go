package api

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/middleware"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

type adsResponse struct {
	Ads   []models.Ad `json:"ads"`
	Debug any         `json:"debug,omitempty"`
}

type targetedRequest struct {
	PlacementCode string             `json:"placementCode"`
	UserProfile   models.UserProfile `json:"userProfile"`
	Limit         int                `json:"limit"`
}

func writeAds(w http.ResponseWriter, ads []models.Ad, tr *logic.SelectionTrace) {
	out := adsResponse{Ads: ads}
	if tr != nil {
		out.Debug = map[string]any{"trace": tr}
	}
	writeJSON(w, http.StatusOK, out)
}

// ActiveAdsHandler handles GET /ads/active?placement=&limit=. It is public
// and ignores targeting.
func (s *Server) ActiveAdsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ActiveAdsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/ads/active"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "ads_active"
	const method = "GET"

	q := r.URL.Query()
	placement := q.Get("placement")
	if placement == "" {
		placement = q.Get("placementCode")
	}
	if placement == "" {
		s.observe(endpoint, method, writeError(w, &tracking.ValidationError{Field: "placement", Reason: "required"}), start)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.observe(endpoint, method, writeError(w, &tracking.ValidationError{Field: "limit", Reason: "must be an integer"}), start)
			return
		}
		limit = n
	}
	span.SetAttributes(attribute.String("placement", placement), attribute.Int("limit", limit))

	var tr *logic.SelectionTrace
	if debugRequested(r, s.DebugTrace) {
		tr = &logic.SelectionTrace{}
	}
	ads, err := s.Selector.GetActiveAds(ctx, placement, limit, tr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select active ads")
		logger.Error("active ad selection failed", zap.String("placement", placement), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	span.SetAttributes(attribute.Int("ads_returned", len(ads)))
	writeAds(w, ads, tr)
	s.observe(endpoint, method, http.StatusOK, start)
}

// TargetedAdsHandler handles POST /ads/targeted. When the profile carries
// no location, the country resolved from the client IP is used.
func (s *Server) TargetedAdsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "TargetedAdsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ads/targeted"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "ads_targeted"
	const method = "POST"

	var req targetedRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	if req.PlacementCode == "" {
		s.observe(endpoint, method, writeError(w, &tracking.ValidationError{Field: "placementCode", Reason: "required"}), start)
		return
	}
	profile := req.UserProfile
	if profile.Location == "" {
		profile.Location = s.GeoIP.Lookup(middleware.ClientIP(r)).Country
	}
	span.SetAttributes(attribute.String("placement", req.PlacementCode), attribute.Int("limit", req.Limit))

	var tr *logic.SelectionTrace
	if debugRequested(r, s.DebugTrace) {
		tr = &logic.SelectionTrace{}
	}
	ads, err := s.Selector.GetTargetedAds(ctx, req.PlacementCode, profile, req.Limit, tr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select targeted ads")
		logger.Error("targeted ad selection failed", zap.String("placement", req.PlacementCode), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	span.SetAttributes(attribute.Int("ads_returned", len(ads)))
	writeAds(w, ads, tr)
	s.observe(endpoint, method, http.StatusOK, start)
}
