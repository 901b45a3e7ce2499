package handlers

import (
	"net/http"

	"github.com/agentstation/kstartup/internal/server/response"
)

// HandleHealth handles GET /health.
// @Summary Health check
// @Description Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} response.Response{data=object}
// @Router /health [get].
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "kstartup",
		"version": h.app.Version(),
	})
}

// HandleReady handles GET /api/v1/ready.
// @Summary Readiness check
// @Description Readiness including the store and active runs
// @Tags health
// @Produce json
// @Success 200 {object} response.Response{data=object}
// @Failure 503 {object} response.Response{error=response.Error}
// @Router /api/v1/ready [get].
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	client, err := h.app.Client()
	if err != nil {
		response.ServiceUnavailable(w, "Client not available")
		return
	}
	// a cheap read proves the store answers
	if _, err := client.Runs(r.Context(), "", 1); err != nil {
		h.logger.Warn().Err(err).Msg("Store not ready")
		response.ServiceUnavailable(w, "Store not available")
		return
	}

	response.OK(w, map[string]any{
		"status":            "ready",
		"sources":           len(client.Sources()),
		"active_runs":       len(client.Active()),
		"cache_items":       h.cache.ItemCount(),
		"websocket_clients": h.wsHub.ClientCount(),
		"sse_clients":       h.sseBroadcaster.ClientCount(),
	})
}
