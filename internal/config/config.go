// Package config loads kstartup configuration from config files, .env files
// and KSTARTUP_ prefixed environment variables.
package config

import (
	"slices"
	"time"

	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/records"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the complete application configuration.
type Config struct {
	// Global flags
	Verbose bool   `mapstructure:"verbose"`
	Quiet   bool   `mapstructure:"quiet"`
	NoColor bool   `mapstructure:"no_color"`
	Format  string `mapstructure:"format"`

	// ConfigFile is the file actually read, if any.
	ConfigFile string `mapstructure:"-"`

	// Logging configuration
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogOutput string `mapstructure:"log_output"`

	Sources  []fetch.SourceConfig `mapstructure:"sources"`
	Store    StoreConfig          `mapstructure:"store"`
	Ingest   IngestConfig         `mapstructure:"ingest"`
	Fetch    FetchConfig          `mapstructure:"fetch"`
	Server   ServerConfig         `mapstructure:"server"`
	Schedule ScheduleConfig       `mapstructure:"schedule"`
	Tables   TablesConfig         `mapstructure:"tables"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// IngestConfig tunes the run controller.
type IngestConfig struct {
	Workers      int           `mapstructure:"workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchRetries int           `mapstructure:"batch_retries"`
	RunBudget    time.Duration `mapstructure:"run_budget"`
}

// FetchConfig tunes the upstream HTTP client.
type FetchConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Prefix      string   `mapstructure:"prefix"`
	APIKey      string   `mapstructure:"api_key"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	RateLimit   int      `mapstructure:"rate_limit"`
	Metrics     bool     `mapstructure:"metrics"`
}

// ScheduleConfig drives automatic ingestion.
type ScheduleConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`

	// Sources limits scheduled runs to these ids. Empty means all.
	Sources []string `mapstructure:"sources"`
}

// TablesConfig overrides the embedded mapping and taxonomy tables.
type TablesConfig struct {
	Mappings string `mapstructure:"mappings"`
	Taxonomy string `mapstructure:"taxonomy"`
}

// DefaultSources returns one source per record kind against the public
// K-Startup gateway.
func DefaultSources() []fetch.SourceConfig {
	ids := map[records.Kind]string{
		records.KindAnnouncement: "announcements",
		records.KindBusiness:     "businesses",
		records.KindContent:      "contents",
		records.KindStatistics:   "statistics",
	}
	out := make([]fetch.SourceConfig, 0, len(ids))
	for _, kind := range records.Kinds() {
		out = append(out, fetch.SourceConfig{
			ID:        ids[kind],
			Kind:      kind,
			APIKeyEnv: constants.DefaultAPIKeyEnv,
			Auth:      transport.AuthQuery,
		})
	}
	return out
}

// Validate checks cross-field constraints. Individual sources are validated
// by the controller that runs them.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			return errors.NewConfigError("store.dsn", "required for driver "+c.Store.Driver, nil)
		}
	default:
		return errors.NewConfigError("store.driver", "unknown driver "+c.Store.Driver, nil)
	}

	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		return errors.NewConfigError("schedule.interval", "must be positive when the schedule is enabled", nil)
	}
	for _, id := range c.Schedule.Sources {
		if !slices.ContainsFunc(c.Sources, func(s fetch.SourceConfig) bool { return s.ID == id }) {
			return errors.NewConfigError("schedule.sources", "unknown source "+id, nil)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.NewConfigError("server.port", "out of range", nil)
	}
	return nil
}

// ScheduledSources returns the source ids the schedule fires for.
func (c *Config) ScheduledSources() []string {
	if len(c.Schedule.Sources) > 0 {
		return c.Schedule.Sources
	}
	ids := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		ids = append(ids, s.ID)
	}
	return ids
}

// UpdateFromFlags applies parsed global flags, which take precedence over
// config files and the environment.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}
