package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/middleware"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

// AdAnalyticsHandler handles GET /ads/{id}/analytics?startDate&endDate.
func (s *Server) AdAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AdAnalyticsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/ads/{id}/analytics"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "ad_analytics"
	const method = "GET"

	adID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || adID <= 0 {
		s.observe(endpoint, method, writeError(w, &tracking.ValidationError{Field: "id", Reason: "must be a positive integer"}), start)
		return
	}
	q := r.URL.Query()
	var rng models.DateRange
	if rng.Start, err = models.ParseDateBound(q.Get("startDate"), false); err != nil {
		s.observe(endpoint, method, writeError(w, &tracking.ValidationError{Field: "startDate", Reason: err.Error()}), start)
		return
	}
	if rng.End, err = models.ParseDateBound(q.Get("endDate"), true); err != nil {
		s.observe(endpoint, method, writeError(w, &tracking.ValidationError{Field: "endDate", Reason: err.Error()}), start)
		return
	}
	span.SetAttributes(attribute.Int64("ad_id", adID))

	res, err := s.Analytics.GetAdAnalytics(ctx, adID, rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ad analytics")
		logger.Warn("ad analytics failed", zap.Int64("ad_id", adID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	writeJSON(w, http.StatusOK, res)
	s.observe(endpoint, method, http.StatusOK, start)
}
