package api

import (
	"io"
	"net/http"
	"time"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

// ValidateTargetingHandler handles POST /ads/targeting/validate. The verdict
// is always returned with 200; only an unreadable body is a 400.
func (s *Server) ValidateTargetingHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "targeting_validate"
	const method = "POST"

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		s.observe(endpoint, method, writeError(w, &tracking.ValidationError{Field: "body", Reason: "unreadable"}), start)
		return
	}

	res, _ := logic.ValidateTargetingRulesJSON(raw)
	writeJSON(w, http.StatusOK, res)
	s.observe(endpoint, method, http.StatusOK, start)
}
