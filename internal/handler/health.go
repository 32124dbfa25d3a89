package handler

import (
	"net/http"
)

// ReadyChecker reports whether a persistence backend is reachable.
type ReadyChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checker ReadyChecker
}

// NewHealthHandler creates a new health handler. checker may be nil when the
// persistence backend has no connection to check.
func NewHealthHandler(checker ReadyChecker) *HealthHandler {
	return &HealthHandler{
		checker: checker,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil && !h.checker.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "persistence backend not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
