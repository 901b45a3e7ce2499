// Package app provides the application context and dependency management
// for the kstartup CLI. Configuration, logging, metrics and the client are
// created here once and handed to commands through application.Application.
package app

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup"
	"github.com/agentstation/kstartup/cmd/application"
	"github.com/agentstation/kstartup/internal/config"
	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/ingest"
)

var _ application.Application = (*App)(nil)

// App represents the kstartup application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config     *config.Config
	configFile string
	logger     *zerolog.Logger
	registry   *prometheus.Registry

	// Client instance (lazy-initialized, singleton)
	mu     sync.RWMutex
	client kstartup.Client
}

// New creates a new App instance with the given version information.
// Configuration is read from the default locations; a --config flag
// reloads it before the command runs.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = cfg

	logger := NewLogger(cfg)
	app.logger = &logger

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the configured output format.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// Metrics returns the registry the client's collectors are registered in.
func (a *App) Metrics() prometheus.Gatherer {
	return a.registry
}

// Client returns the client, creating it lazily if needed.
// This is thread-safe and ensures only one instance is created.
func (a *App) Client() (kstartup.Client, error) {
	a.mu.RLock()
	if a.client != nil {
		c := a.client
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if a.client != nil {
		return a.client, nil
	}

	if err := a.config.Validate(); err != nil {
		return nil, err
	}
	c, err := kstartup.New(a.clientOptions()...)
	if err != nil {
		return nil, errors.WrapResource("create", "client", "", err)
	}

	a.client = c
	return c, nil
}

// Shutdown stops scheduled ingestion, cancels active runs and closes the
// store. It is a no-op when no command created the client.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	c := a.client
	a.client = nil
	a.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close(ctx)
}

// clientOptions constructs client options from the app configuration.
func (a *App) clientOptions() []kstartup.Option {
	cfg := a.config

	tc := transport.DefaultConfig()
	tc.Timeout = cfg.Fetch.Timeout
	tc.MaxRetries = cfg.Fetch.MaxRetries
	tc.Backoff = cfg.Fetch.Backoff
	tc.RateLimit = cfg.Fetch.RateLimit
	tc.Burst = cfg.Fetch.Burst
	tc.UserAgent = "kstartup/" + a.version

	opts := []kstartup.Option{
		kstartup.WithLogger(a.logger),
		kstartup.WithRegisterer(a.registry),
		kstartup.WithSources(cfg.Sources...),
		kstartup.WithStoreDriver(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.MaxConns),
		kstartup.WithTransport(tc),
		kstartup.WithIngestOptions(
			ingest.WithWorkers(cfg.Ingest.Workers),
			ingest.WithBatchSize(cfg.Ingest.BatchSize),
			ingest.WithBatchRetries(cfg.Ingest.BatchRetries, 0),
			ingest.WithRunBudget(cfg.Ingest.RunBudget),
		),
	}

	if cfg.Tables.Mappings != "" {
		opts = append(opts, kstartup.WithMappingsFile(cfg.Tables.Mappings))
	}
	if cfg.Tables.Taxonomy != "" {
		opts = append(opts, kstartup.WithTaxonomyFile(cfg.Tables.Taxonomy))
	}

	if cfg.Schedule.Interval > 0 {
		opts = append(opts, kstartup.WithAutoIngestInterval(cfg.Schedule.Interval))
	}
	// The schedule is started by commands that stay up (serve), never by
	// one-shot commands.
	opts = append(opts,
		kstartup.WithAutoIngestSources(cfg.ScheduledSources()...),
		kstartup.WithAutoIngest(false),
	)
	return opts
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		a.config = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithClient sets a custom client instance (useful for testing).
func WithClient(c kstartup.Client) Option {
	return func(a *App) error {
		a.client = c
		return nil
	}
}
