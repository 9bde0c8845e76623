package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/middleware"
)

// HealthHandler responds with a simple status check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	body := map[string]any{"status": "ok"}
	if s.Pipeline != nil {
		body["bufferedImpressions"] = s.Pipeline.Buffer().Len()
	}
	writeJSON(w, http.StatusOK, body)
	s.observe(endpoint, method, http.StatusOK, start)
}

// DBHealthHandler pings the primary store.
func (s *Server) DBHealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health_db"
	const method = "GET"

	if s.DB == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "memory"})
		s.observe(endpoint, method, http.StatusOK, start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.Ping(ctx); err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Warn("database ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "postgres"})
	s.observe(endpoint, method, http.StatusOK, start)
}
