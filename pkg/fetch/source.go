package fetch

import (
	"os"
	"strings"
	"time"

	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
)

// SourceConfig describes one upstream listing endpoint.
type SourceConfig struct {
	ID       string       `mapstructure:"id" yaml:"id" json:"id"`
	Kind     records.Kind `mapstructure:"kind" yaml:"kind" json:"kind"`
	BaseURL  string       `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Path     string       `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	PerPage  int          `mapstructure:"per_page" yaml:"per_page,omitempty" json:"per_page,omitempty"`
	MaxPages int          `mapstructure:"max_pages" yaml:"max_pages,omitempty" json:"max_pages,omitempty"`

	// Filters are passed through as query parameters.
	Filters map[string]string `mapstructure:"filters" yaml:"filters,omitempty" json:"filters,omitempty"`

	// APIKeyEnv names the environment variable holding the service key.
	// Keys are never stored in configuration.
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	Auth      string `mapstructure:"auth" yaml:"auth,omitempty" json:"auth,omitempty"`
	AuthParam string `mapstructure:"auth_param" yaml:"auth_param,omitempty" json:"auth_param,omitempty"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`

	// RunBudget is a soft limit: once spent the fetcher stops requesting
	// pages and the run drains what it has.
	RunBudget time.Duration `mapstructure:"run_budget" yaml:"run_budget,omitempty" json:"run_budget,omitempty"`
}

// defaultPaths are the K-Startup listing operations per kind.
var defaultPaths = map[records.Kind]string{
	records.KindAnnouncement: "getAnnouncementInformation01",
	records.KindBusiness:     "getBusinessInformation01",
	records.KindContent:      "getContentInformation01",
	records.KindStatistics:   "getStatisticalInformation01",
}

// DefaultPath returns the listing path for kind.
func DefaultPath(kind records.Kind) string {
	return defaultPaths[kind]
}

// WithDefaults fills unset fields.
func (c SourceConfig) WithDefaults() SourceConfig {
	if c.BaseURL == "" {
		c.BaseURL = constants.DefaultBaseURL
	}
	if c.Path == "" {
		c.Path = DefaultPath(c.Kind)
	}
	if c.PerPage <= 0 {
		c.PerPage = constants.DefaultPageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = constants.DefaultMaxPages
	}
	if c.Auth == "" {
		c.Auth = transport.AuthQuery
	}
	if c.Auth != transport.AuthNone {
		if c.APIKeyEnv == "" {
			c.APIKeyEnv = constants.DefaultAPIKeyEnv
		}
		if c.AuthParam == "" && c.Auth == transport.AuthQuery {
			c.AuthParam = constants.DefaultAPIKeyParam
		}
	}
	return c
}

// Validate checks a config after defaults are applied.
func (c SourceConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return errors.NewValidationError("id", c.ID, "source id is required")
	case !c.Kind.Valid():
		return errors.NewValidationError("kind", c.Kind, "unknown record kind")
	case c.BaseURL == "":
		return errors.NewValidationError("base_url", c.BaseURL, "base url is required")
	case c.PerPage > constants.MaxPageSize:
		return errors.NewValidationError("per_page", c.PerPage, "page size too large")
	}
	switch c.Auth {
	case "", transport.AuthQuery, transport.AuthHeader, transport.AuthNone:
	default:
		return errors.NewValidationError("auth", c.Auth, "auth must be query, header or none")
	}
	return nil
}

// APIKey resolves the service key from the environment.
func (c SourceConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Endpoint is the full listing URL.
func (c SourceConfig) Endpoint() string {
	return transport.JoinURL(c.BaseURL, c.Path)
}

func (c SourceConfig) credentials() transport.Credentials {
	return transport.Credentials{
		Source:  c.ID,
		Auth:    transport.NewAuthenticator(c.Auth, c.AuthParam),
		APIKey:  c.APIKey(),
		Timeout: c.RequestTimeout,
	}
}
