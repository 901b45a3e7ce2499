// Package serve provides the serve command, which runs the HTTP API with
// WebSocket and SSE run updates.
package serve

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/cmd/cmdutil"
	"github.com/agentstation/kstartup/internal/cmd/emoji"
	"github.com/agentstation/kstartup/internal/config"
	"github.com/agentstation/kstartup/internal/server"
	"github.com/agentstation/kstartup/pkg/constants"
)

// Configured is implemented by applications that carry loaded configuration.
type Configured interface {
	Config() *config.Config
}

// NewCommand creates the serve command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		GroupID: "core",
		Short:   "Start the REST API server with WebSocket and SSE run updates",
		Long: `Start the ingestion API server.

Features:
  - Trigger and cancel runs per source, read run history
  - Mismatch listing and drift summary, cached until the next run finishes
  - WebSocket (/api/v1/updates/ws) and SSE (/api/v1/updates/stream) run events
  - Scheduled ingestion (--schedule) at the configured interval
  - Rate limiting, API key authentication and CORS
  - Prometheus metrics (/metrics)

The API key is read from configuration (server.api_key or
KSTARTUP_SERVER_API_KEY); authentication is enabled when one is set.`,
		Example: `  # Start on default port 8080
  kstartup serve

  # Ingest every 6 hours while serving
  KSTARTUP_SCHEDULE_INTERVAL=6h kstartup serve --schedule

  # Custom port and CORS origins
  kstartup serve --port 3000 --cors-origins https://admin.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, app)
		},
	}

	defaults := server.DefaultConfig()
	cmd.Flags().Int("port", defaults.Port, "Server port")
	cmd.Flags().String("host", defaults.Host, "Bind address")
	cmd.Flags().String("prefix", defaults.PathPrefix, "API path prefix")
	cmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins (comma-separated, * for all)")
	cmd.Flags().String("auth-header", defaults.AuthHeader, "Authentication header name")
	cmd.Flags().Int("rate-limit", defaults.RateLimit, "Requests per minute per IP (0 to disable)")
	cmd.Flags().Duration("cache-ttl", defaults.CacheTTL, "Cache TTL for drift responses")
	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", defaults.WriteTimeout, "HTTP write timeout")
	cmd.Flags().Duration("idle-timeout", defaults.IdleTimeout, "HTTP idle timeout")
	cmd.Flags().Bool("metrics", defaults.MetricsEnabled, "Enable metrics endpoint")
	cmd.Flags().Bool("schedule", false, "Run scheduled ingestion while serving")

	return cmd
}

func runServer(cmd *cobra.Command, app application.Application) error {
	cfg, schedule := parseConfig(cmd, app)
	logger := app.Logger()

	logger.Info().
		Int("port", cfg.Port).
		Str("host", cfg.Host).
		Str("prefix", cfg.PathPrefix).
		Bool("cors", cfg.CORSEnabled).
		Bool("auth", cfg.AuthEnabled).
		Int("rate_limit", cfg.RateLimit).
		Dur("cache_ttl", cfg.CacheTTL).
		Bool("schedule", schedule).
		Msg("Starting API server")

	srv, err := server.New(app, cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Start()

	if schedule {
		client, err := app.Client()
		if err != nil {
			return err
		}
		if err := client.AutoIngestOn(); err != nil {
			return fmt.Errorf("starting scheduled ingestion: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", httpServer.Addr, err)
	}
	return serve(cmd.Context(), httpServer, ln, srv, logger, cmd.OutOrStdout())
}

// parseConfig starts from the loaded configuration and applies the flags
// the user set explicitly.
func parseConfig(cmd *cobra.Command, app application.Application) (server.Config, bool) {
	cfg := server.DefaultConfig()
	schedule := false
	if c, ok := app.(Configured); ok && c.Config() != nil {
		cfg = server.FromConfig(c.Config().Server)
		schedule = c.Config().Schedule.Enabled
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = cmdutil.MustGetInt(cmd, "port")
	}
	if flags.Changed("host") {
		cfg.Host = cmdutil.MustGetString(cmd, "host")
	}
	if flags.Changed("prefix") {
		cfg.PathPrefix = cmdutil.MustGetString(cmd, "prefix")
	}
	if flags.Changed("cors-origins") {
		cfg.CORSOrigins = cmdutil.MustGetStringSlice(cmd, "cors-origins")
		cfg.CORSEnabled = len(cfg.CORSOrigins) > 0
	}
	if flags.Changed("auth-header") {
		cfg.AuthHeader = cmdutil.MustGetString(cmd, "auth-header")
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit = cmdutil.MustGetInt(cmd, "rate-limit")
	}
	if flags.Changed("cache-ttl") {
		cfg.CacheTTL = cmdutil.MustGetDuration(cmd, "cache-ttl")
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = cmdutil.MustGetDuration(cmd, "read-timeout")
	}
	if flags.Changed("write-timeout") {
		cfg.WriteTimeout = cmdutil.MustGetDuration(cmd, "write-timeout")
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = cmdutil.MustGetDuration(cmd, "idle-timeout")
	}
	if flags.Changed("metrics") {
		cfg.MetricsEnabled = cmdutil.MustGetBool(cmd, "metrics")
	}
	if flags.Changed("schedule") {
		schedule = cmdutil.MustGetBool(cmd, "schedule")
	}
	return cfg, schedule
}

// serve runs httpServer on ln until ctx is canceled, then drains
// connections and stops the background services.
func serve(ctx context.Context, httpServer *http.Server, ln net.Listener, srv *server.Server, logger *zerolog.Logger, out io.Writer) error {
	serverErr := make(chan error, 1)

	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		fmt.Fprintf(out, "%s API server listening on %s\n", emoji.Rocket, ln.Addr())
		fmt.Fprintln(out, "   Press Ctrl+C to stop")

		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
		fmt.Fprintf(out, "\n%s Shutting down API server...\n", emoji.Stop)

		// the parent context is already canceled
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Background services shutdown had issues")
		}

		logger.Info().Msg("Server stopped gracefully")
		fmt.Fprintf(out, "%s API server stopped gracefully\n", emoji.Success)
		return nil
	}
}
