// Package server provides the HTTP API for triggering ingestion runs and
// reading run history and classification drift.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/server/cache"
	"github.com/agentstation/kstartup/internal/server/events"
	"github.com/agentstation/kstartup/internal/server/events/adapters"
	"github.com/agentstation/kstartup/internal/server/middleware"
	"github.com/agentstation/kstartup/internal/server/sse"
	ws "github.com/agentstation/kstartup/internal/server/websocket"
	"github.com/agentstation/kstartup/pkg/ingest"
)

// limiterSweepInterval is how often idle rate limit buckets are dropped.
const limiterSweepInterval = 5 * time.Minute

// Server holds the HTTP server state and dependencies.
type Server struct {
	app            application.Application
	cache          *cache.Cache
	broker         *events.Broker
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	limiter        *middleware.RateLimiter
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
	config         Config
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	startTime      time.Time
}

// New creates a new server instance with the given configuration.
func New(app application.Application, cfg Config) (*Server, error) {
	logger := app.Logger()

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	broker := events.NewBroker(logger)
	wsHub := ws.NewHub(logger)
	sseBroadcaster := sse.NewBroadcaster(logger)

	broker.Subscribe(adapters.NewWebSocketSubscriber(wsHub))
	broker.Subscribe(adapters.NewSSESubscriber(sseBroadcaster))
	logger.Debug().Msg("Real-time transports subscribed to event broker")

	ctx, cancel := context.WithCancel(context.Background())

	server := &Server{
		app:            app,
		cache:          cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		broker:         broker,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // Allow all origins for WebSocket
			},
		},
		logger:    logger,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		server.limiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}

	if err := server.connectHooks(); err != nil {
		cancel()
		return nil, err
	}
	return server, nil
}

// connectHooks forwards run events to the broker and drops cached drift
// data whenever a run finishes.
func (s *Server) connectHooks() error {
	client, err := s.app.Client()
	if err != nil {
		return err
	}

	client.OnEvent(func(e ingest.Event) {
		if e.Type == ingest.RunFinished {
			s.cache.Clear()
		}
		s.broker.Publish(events.FromRun(e))
	})

	s.logger.Debug().Msg("Run events connected to event broker")
	return nil
}

// Start starts background services (broker, WebSocket hub, SSE broadcaster).
func (s *Server) Start() {
	s.goBackground(s.broker.Run)
	s.goBackground(s.wsHub.Run)
	s.goBackground(s.sseBroadcaster.Run)
	if s.limiter != nil {
		s.goBackground(s.sweepLimiter)
	}
	s.logger.Debug().Msg("All background services started")
}

func (s *Server) goBackground(fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("Idle rate limit buckets removed")
			}
		}
	}
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Shutdown stops background services and waits for them until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Background services shut down successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Background services shutdown timed out")
		return ctx.Err()
	}
}

// Broker returns the event broker for publishing events.
func (s *Server) Broker() *events.Broker {
	return s.broker
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}
