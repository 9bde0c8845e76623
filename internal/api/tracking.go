package api

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/middleware"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

// TrackImpressionHandler handles POST /ads/track/impression.
func (s *Server) TrackImpressionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "TrackImpressionHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ads/track/impression"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "track_impression"
	const method = "POST"

	var ev tracking.ImpressionEvent
	if err := decodeBody(w, r, &ev); err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	span.SetAttributes(attribute.Int64("ad_id", ev.AdID))

	res, err := s.Pipeline.TrackImpression(ctx, ev, clientInfo(r))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "track impression")
		logger.Warn("impression rejected", zap.Int64("ad_id", ev.AdID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	span.SetAttributes(attribute.Bool("rate_limited", res.RateLimited))
	writeJSON(w, http.StatusOK, res)
	s.observe(endpoint, method, http.StatusOK, start)
}

// TrackBulkImpressionsHandler handles POST /ads/track/impressions/bulk.
// The body is either {"impressions": [...]} or a bare array.
func (s *Server) TrackBulkImpressionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "TrackBulkImpressionsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ads/track/impressions/bulk"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "track_impressions_bulk"
	const method = "POST"

	var body bulkImpressions
	if err := decodeBody(w, r, &body); err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(body)))

	res, err := s.Pipeline.TrackBulkImpressions(ctx, body, clientInfo(r))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "track bulk impressions")
		logger.Warn("bulk impressions rejected", zap.Int("batch_size", len(body)), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	writeJSON(w, http.StatusOK, res)
	s.observe(endpoint, method, http.StatusOK, start)
}

// TrackClickHandler handles POST /ads/track/click. A failed write answers
// 503 so the client can retry.
func (s *Server) TrackClickHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "TrackClickHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ads/track/click"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "track_click"
	const method = "POST"

	var ev tracking.ClickEvent
	if err := decodeBody(w, r, &ev); err != nil {
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	span.SetAttributes(attribute.Int64("ad_id", ev.AdID))

	res, err := s.Pipeline.TrackClick(ctx, ev, clientInfo(r))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "track click")
		logger.Error("click not tracked", zap.Int64("ad_id", ev.AdID), zap.Error(err))
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	writeJSON(w, http.StatusOK, res)
	s.observe(endpoint, method, http.StatusOK, start)
}
