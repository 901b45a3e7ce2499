// Package handlers provides HTTP request handlers for the ingestion API.
package handlers

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/server/cache"
	"github.com/agentstation/kstartup/internal/server/sse"
	ws "github.com/agentstation/kstartup/internal/server/websocket"
)

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	app            application.Application
	cache          *cache.Cache
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
}

// New creates a new Handlers instance.
func New(
	app application.Application,
	cache *cache.Cache,
	wsHub *ws.Hub,
	sseBroadcaster *sse.Broadcaster,
	upgrader websocket.Upgrader,
	logger *zerolog.Logger,
) *Handlers {
	return &Handlers{
		app:            app,
		cache:          cache,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		upgrader:       upgrader,
		logger:         logger,
	}
}
