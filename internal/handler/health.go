package handler

import (
	"net/http"

	natsclient "github.com/ManoDarpan/ManoDarpan/internal/nats"
	"github.com/ManoDarpan/ManoDarpan/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	pg         *store.Postgres  // nil when the in-memory store is wired
	natsClient *natsclient.Client // nil when the in-process hub is wired
}

// NewHealthHandler creates a new health handler. Either dependency may be
// nil; readiness only checks what is actually wired.
func NewHealthHandler(pg *store.Postgres, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		pg:         pg,
		natsClient: natsClient,
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
	if h.pg != nil {
		if err := h.pg.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database not reachable",
			})
			return
		}
	}

	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
