package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/analytics"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/geoip"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/selectors"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/middleware"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

var tracer = otel.Tracer("leapads")

// maxBodyBytes caps request bodies; a full bulk batch fits comfortably.
const maxBodyBytes = 1 << 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Selector   selectors.Selector
	Pipeline   *tracking.Pipeline
	Analytics  *analytics.Aggregator
	GeoIP      *geoip.GeoIP
	DB         Pinger
	Metrics    observability.MetricsRegistry
	DebugTrace bool
}

// NewServer constructs a Server. db may be nil when running on the
// in-memory store.
func NewServer(logger *zap.Logger, selector selectors.Selector, pipeline *tracking.Pipeline, agg *analytics.Aggregator, geo *geoip.GeoIP, db Pinger, metrics observability.MetricsRegistry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:    logger,
		Selector:  selector,
		Pipeline:  pipeline,
		Analytics: agg,
		GeoIP:     geo,
		DB:        db,
		Metrics:   metrics,
	}
}

// Router registers every route on a new gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/ads/track/impression", s.TrackImpressionHandler).Methods("POST")
	r.HandleFunc("/ads/track/impressions/bulk", s.TrackBulkImpressionsHandler).Methods("POST")
	r.HandleFunc("/ads/track/click", s.TrackClickHandler).Methods("POST")
	r.HandleFunc("/ads/active", s.ActiveAdsHandler).Methods("GET")
	r.HandleFunc("/ads/targeted", s.TargetedAdsHandler).Methods("POST")
	r.HandleFunc("/ads/targeting/validate", s.ValidateTargetingHandler).Methods("POST")
	r.HandleFunc("/ads/{id:[0-9]+}/analytics", s.AdAnalyticsHandler).Methods("GET")

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.HandleFunc("/health/db", s.DBHealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// observe records the request metrics for one handled call.
func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracking.ErrValidation), errors.Is(err, analytics.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracking.ErrPersistence), errors.Is(err, tracking.ErrClosed), errors.Is(err, analytics.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON body and returns the status used.
// Internal errors are not echoed to the client.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	body := errorResponse{Error: http.StatusText(status)}
	var verr *tracking.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Error = verr.Reason
		body.Field = verr.Field
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
	return status
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &tracking.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}

func clientInfo(r *http.Request) tracking.ClientInfo {
	return tracking.ClientInfo{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

func debugRequested(r *http.Request, always bool) bool {
	if always {
		return true
	}
	v := r.URL.Query().Get("debug")
	return v == "1" || v == "true"
}
