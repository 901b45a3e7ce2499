package server

import (
	"time"

	"github.com/agentstation/kstartup/internal/config"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// API settings
	PathPrefix string

	// CORS settings
	CORSEnabled bool
	CORSOrigins []string

	// Authentication settings
	AuthEnabled bool
	AuthHeader  string
	APIKey      string

	// Performance settings
	RateLimit int // Requests per minute per IP (0 to disable)
	CacheTTL  time.Duration

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Features
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           8080,
		PathPrefix:     "/api/v1",
		CORSEnabled:    false,
		CORSOrigins:    []string{},
		AuthEnabled:    false,
		AuthHeader:     "X-API-Key",
		RateLimit:      100,
		CacheTTL:       time.Minute,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MetricsEnabled: true,
	}
}

// FromConfig builds a server Config from the loaded application config.
// An API key turns authentication on; CORS origins turn CORS on.
func FromConfig(sc config.ServerConfig) Config {
	cfg := DefaultConfig()
	if sc.Host != "" {
		cfg.Host = sc.Host
	}
	if sc.Port != 0 {
		cfg.Port = sc.Port
	}
	if sc.Prefix != "" {
		cfg.PathPrefix = sc.Prefix
	}
	cfg.APIKey = sc.APIKey
	cfg.AuthEnabled = sc.APIKey != ""
	cfg.CORSOrigins = sc.CORSOrigins
	cfg.CORSEnabled = len(sc.CORSOrigins) > 0
	cfg.RateLimit = sc.RateLimit
	cfg.MetricsEnabled = sc.Metrics
	return cfg
}
