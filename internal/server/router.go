package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentstation/kstartup/internal/server/handlers"
	"github.com/agentstation/kstartup/internal/server/middleware"
	"github.com/agentstation/kstartup/internal/server/response"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(
		s.app,
		s.cache,
		s.wsHub,
		s.sseBroadcaster,
		s.upgrader,
		s.logger,
	)

	s.registerRoutes(mux, h)
	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/ready", h.HandleReady)

	// Sources
	mux.HandleFunc("GET "+prefix+"/sources", h.HandleListSources)
	mux.HandleFunc("POST "+prefix+"/sources/{id}/trigger", h.HandleTrigger)
	mux.HandleFunc("POST "+prefix+"/sources/{id}/cancel", h.HandleCancel)

	// Runs
	mux.HandleFunc("GET "+prefix+"/runs", h.HandleListRuns)
	mux.HandleFunc("GET "+prefix+"/runs/{id}", h.HandleGetRun)

	// Drift report
	mux.HandleFunc("GET "+prefix+"/mismatches", h.HandleListMismatches)
	mux.HandleFunc("GET "+prefix+"/drift", h.HandleDrift)

	// Real-time endpoints
	mux.HandleFunc("GET "+prefix+"/updates/ws", h.HandleWebSocket)
	mux.HandleFunc("GET "+prefix+"/updates/stream", h.HandleSSE)

	if s.config.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.app.Metrics(), promhttp.HandlerOpts{}))
	}

	// Everything else answers in the API envelope
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "Not found", "No route for "+r.Method+" "+r.URL.Path)
	})
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config
	var chain []func(http.Handler) http.Handler

	// Recovery and logging wrap everything
	chain = append(chain, middleware.Recovery(s.logger), middleware.Logger(s.logger))

	if cfg.CORSEnabled {
		corsConfig := middleware.DefaultCORSConfig()
		if len(cfg.CORSOrigins) > 0 {
			corsConfig.AllowedOrigins = cfg.CORSOrigins
		} else {
			corsConfig.AllowAll = true
		}
		chain = append(chain, middleware.CORS(corsConfig))
	}

	if cfg.AuthEnabled {
		authConfig := middleware.DefaultAuthConfig()
		authConfig.Enabled = true
		authConfig.APIKey = cfg.APIKey
		authConfig.HeaderName = cfg.AuthHeader
		authConfig.PublicPaths = append(authConfig.PublicPaths, cfg.PathPrefix+"/health", cfg.PathPrefix+"/ready")
		chain = append(chain, middleware.Auth(authConfig, s.logger))
	}

	if s.limiter != nil {
		chain = append(chain, middleware.RateLimit(s.limiter))
	}

	return middleware.Chain(chain...)(handler)
}
