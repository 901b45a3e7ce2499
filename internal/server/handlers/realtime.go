package handlers

import (
	"net/http"
)

// HandleWebSocket handles WebSocket connections at /api/v1/updates/ws.
// @Summary WebSocket updates
// @Description WebSocket connection for live run events
// @Tags updates
// @Success 101 "Switching Protocols"
// @Router /api/v1/updates/ws [get].
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := h.wsHub.Serve(h.upgrader, w, r); err != nil {
		// the upgrader has already answered the request
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
	}
}

// HandleSSE handles Server-Sent Events at /api/v1/updates/stream.
// @Summary SSE updates stream
// @Description Server-Sent Events stream of run events
// @Tags updates
// @Produce text/event-stream
// @Success 200 "Event stream"
// @Router /api/v1/updates/stream [get].
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseBroadcaster.ServeHTTP(w, r)
}
