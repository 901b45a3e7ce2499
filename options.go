package kstartup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/ingest"
	"github.com/agentstation/kstartup/pkg/store"
)

// Option configures a Client.
type Option func(*options) error

type options struct {
	sources []fetch.SourceConfig

	// store is used as is when set; otherwise one is opened from the
	// driver settings and owned by the client.
	store            store.Store
	storeDriver      string
	storeDSN         string
	storeMaxConns    int
	storeOpenTimeout time.Duration

	transport     transport.Config
	ingestOptions []ingest.Option
	mappingsPath  string
	taxonomyPath  string
	registerer    prometheus.Registerer
	logger        *zerolog.Logger

	autoIngest         bool
	autoIngestInterval time.Duration
	autoIngestSources  []string
}

func defaults() *options {
	return &options{
		storeDriver:        DriverMemory,
		storeOpenTimeout:   constants.DefaultHTTPTimeout,
		transport:          transport.DefaultConfig(),
		autoIngestInterval: constants.DefaultIngestInterval,
	}
}

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if len(o.sources) == 0 {
		return nil, errors.NewConfigError("sources", "at least one source is required", nil)
	}
	return o, nil
}

// WithSources sets the sources the client ingests.
func WithSources(sources ...fetch.SourceConfig) Option {
	return func(o *options) error {
		o.sources = append(o.sources, sources...)
		return nil
	}
}

// WithStore uses an already opened store. The caller keeps ownership and
// closes it.
func WithStore(st store.Store) Option {
	return func(o *options) error {
		o.store = st
		return nil
	}
}

// WithStoreDriver opens a store of the given driver: memory, postgres or
// sqlite. maxConns applies to postgres; 0 keeps the pool default.
func WithStoreDriver(driver, dsn string, maxConns int) Option {
	return func(o *options) error {
		o.storeDriver = driver
		o.storeDSN = dsn
		o.storeMaxConns = maxConns
		return nil
	}
}

// WithTransport configures the upstream HTTP client.
func WithTransport(cfg transport.Config) Option {
	return func(o *options) error {
		o.transport = cfg
		return nil
	}
}

// WithIngestOptions passes options through to the run controller.
func WithIngestOptions(opts ...ingest.Option) Option {
	return func(o *options) error {
		o.ingestOptions = append(o.ingestOptions, opts...)
		return nil
	}
}

// WithMappingsFile replaces the embedded field mapping tables.
func WithMappingsFile(path string) Option {
	return func(o *options) error {
		o.mappingsPath = path
		return nil
	}
}

// WithTaxonomyFile replaces the embedded taxonomy.
func WithTaxonomyFile(path string) Option {
	return func(o *options) error {
		o.taxonomyPath = path
		return nil
	}
}

// WithRegisterer registers run metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithLogger sets the logger for runs.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithAutoIngest configures whether scheduled ingestion starts with the
// client.
func WithAutoIngest(enabled bool) Option {
	return func(o *options) error {
		o.autoIngest = enabled
		return nil
	}
}

// WithAutoIngestInterval enables scheduled ingestion at the given interval.
func WithAutoIngestInterval(interval time.Duration) Option {
	return func(o *options) error {
		o.autoIngest = true
		o.autoIngestInterval = interval
		return nil
	}
}

// WithAutoIngestSources limits scheduled ingestion to the given source ids.
func WithAutoIngestSources(ids ...string) Option {
	return func(o *options) error {
		o.autoIngestSources = append(o.autoIngestSources, ids...)
		return nil
	}
}
