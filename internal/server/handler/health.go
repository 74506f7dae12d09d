package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	venue string
}

func NewHealthHandler(venue string) *HealthHandler {
	return &HealthHandler{venue: venue}
}

// Check responds 200 while the process is up.
// GET /api/health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"venue":     h.venue,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
