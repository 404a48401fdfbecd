package handler

import (
	"net/http"
	"time"

	natsclient "github.com/guardrail-ai/llm-gateway/internal/nats"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	nats *natsclient.Client
}

// NewHealthHandler creates a new health handler. The NATS client may be nil
// when the event journal is disabled.
func NewHealthHandler(nats *natsclient.Client) *HealthHandler {
	return &HealthHandler{nats: nats}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// Ready handles GET /ready. Readiness fails when the journal is configured
// but unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.nats != nil && !h.nats.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "event journal disconnected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
