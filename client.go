// Package kstartup ingests the K-Startup open data listings (announcements,
// businesses, content and statistics) into a document store and reports
// classification drift against an internally maintained taxonomy.
//
// A Client wires the mapping and taxonomy tables, a persistence backend and
// the run controller together:
//
//	client, err := kstartup.New(
//	    kstartup.WithStoreDriver("sqlite", "./kstartup.db", 0),
//	    kstartup.WithAutoIngestInterval(6*time.Hour),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(context.Background())
//
//	client.OnRunFinished(func(run records.Run) {
//	    log.Printf("%s: %s (%d upserted)", run.SourceID, run.State, run.RecordsUpserted)
//	})
//
//	run, err := client.Ingest(ctx, "announcements")
package kstartup

import (
	"context"
	"sync"
	"time"

	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/ingest"
	"github.com/agentstation/kstartup/pkg/logging"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/report"
	"github.com/agentstation/kstartup/pkg/store"
	"github.com/agentstation/kstartup/pkg/taxonomy"
)

// Compile-time interface check to ensure proper implementation.
var _ Client = (*client)(nil)

// Ingester starts, cancels and observes ingestion runs.
type Ingester interface {
	// Trigger starts a run in the background. A source with an active run
	// rejects the trigger and the result carries the active run.
	Trigger(ctx context.Context, sourceID string) (ingest.TriggerResult, error)

	// Ingest runs a source to completion.
	Ingest(ctx context.Context, sourceID string) (records.Run, error)

	// Cancel cancels the active run of a source.
	Cancel(sourceID string) bool

	// Active returns the runs in progress.
	Active() []records.Run

	// Wait blocks until the active run of a source has finished.
	Wait(ctx context.Context, sourceID string) error
}

// Reports reads run history and the drift report.
type Reports interface {
	Runs(ctx context.Context, sourceID string, limit int) ([]records.Run, error)
	Run(ctx context.Context, id string) (records.Run, error)
	Mismatches(ctx context.Context, filter store.MismatchFilter) ([]reconcile.Mismatch, error)
	Drift(ctx context.Context, filter store.MismatchFilter) (report.Summary, error)
}

// Tables exposes the configuration the client runs with.
type Tables interface {
	Sources() []fetch.SourceConfig
	Mappings() *fieldmap.Table
	Taxonomy() *taxonomy.Table
}

// Client ingests configured sources and reports on them.
type Client interface {
	Ingester
	Reports
	Tables

	// AutoIngester provides access to scheduled ingestion
	AutoIngester

	// Hooks provides access to run callbacks
	Hooks

	// Close stops scheduled ingestion, cancels active runs and closes the
	// store when the client opened it.
	Close(ctx context.Context) error
}

// client is the internal implementation of the Client interface.
type client struct {
	options    *options
	fields     *fieldmap.Table
	taxonomy   *taxonomy.Table
	store      store.Store
	ownsStore  bool
	controller *ingest.Controller
	hooks      *hooks

	// scheduled ingestion state
	mu           sync.Mutex
	ingestTicker *time.Ticker
	stopCh       chan struct{}
	ingestCancel context.CancelFunc
}

// New creates a Client with the given options.
func New(opts ...Option) (Client, error) {
	o, err := defaults().apply(opts...)
	if err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger = logging.Default()
	}

	c := &client{
		options: o,
		hooks:   newHooks(),
		stopCh:  make(chan struct{}),
	}

	if c.fields, err = loadMappings(o.mappingsPath); err != nil {
		return nil, err
	}
	if c.taxonomy, err = loadTaxonomy(o.taxonomyPath); err != nil {
		return nil, err
	}
	logger.Debug().
		Int("kinds", len(c.fields.KindNames())).
		Int("codes", c.taxonomy.Len()).
		Msg("Mapping and taxonomy tables loaded")

	c.store = o.store
	if c.store == nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.storeOpenTimeout)
		c.store, err = OpenStore(ctx, o.storeDriver, o.storeDSN, o.storeMaxConns)
		cancel()
		if err != nil {
			return nil, errors.WrapResource("open", "store", o.storeDriver, err)
		}
		c.ownsStore = true
	}

	ingestOpts := append([]ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMetrics(ingest.NewMetrics(o.registerer)),
	}, o.ingestOptions...)

	fetcher := fetch.New(transport.New(o.transport))
	c.controller, err = ingest.New(c.store, fetcher, c.fields, reconcile.New(c.taxonomy, c.fields), o.sources, ingestOpts...)
	if err != nil {
		c.closeStore()
		return nil, err
	}
	c.controller.OnEvent(c.hooks.dispatch)

	if o.autoIngest {
		if err := c.AutoIngestOn(); err != nil {
			c.closeStore()
			return nil, errors.WrapResource("start", "auto-ingest", "", err)
		}
	}
	return c, nil
}

func loadMappings(path string) (*fieldmap.Table, error) {
	if path == "" {
		return fieldmap.Default()
	}
	return fieldmap.LoadFile(path)
}

func loadTaxonomy(path string) (*taxonomy.Table, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.LoadFile(path)
}

func (c *client) Trigger(ctx context.Context, sourceID string) (ingest.TriggerResult, error) {
	return c.controller.Trigger(ctx, sourceID)
}

func (c *client) Ingest(ctx context.Context, sourceID string) (records.Run, error) {
	return c.controller.Execute(ctx, sourceID)
}

func (c *client) Cancel(sourceID string) bool {
	return c.controller.Cancel(sourceID)
}

func (c *client) Active() []records.Run {
	return c.controller.Active()
}

func (c *client) Wait(ctx context.Context, sourceID string) error {
	return c.controller.Wait(ctx, sourceID)
}

func (c *client) Runs(ctx context.Context, sourceID string, limit int) ([]records.Run, error) {
	return c.controller.Runs(ctx, sourceID, limit)
}

func (c *client) Run(ctx context.Context, id string) (records.Run, error) {
	return c.controller.Lookup(ctx, id)
}

func (c *client) Mismatches(ctx context.Context, filter store.MismatchFilter) ([]reconcile.Mismatch, error) {
	return c.store.Mismatches(ctx, filter)
}

// Drift summarizes the mismatches matching filter.
func (c *client) Drift(ctx context.Context, filter store.MismatchFilter) (report.Summary, error) {
	found, err := c.store.Mismatches(ctx, filter)
	if err != nil {
		return report.Summary{}, err
	}
	return report.Summarize(found), nil
}

func (c *client) Sources() []fetch.SourceConfig {
	return c.controller.Sources()
}

func (c *client) Mappings() *fieldmap.Table {
	return c.fields
}

func (c *client) Taxonomy() *taxonomy.Table {
	return c.taxonomy
}

func (c *client) Close(ctx context.Context) error {
	if err := c.AutoIngestOff(); err != nil {
		return err
	}
	if err := c.controller.Shutdown(ctx); err != nil {
		// runs still hold the store
		return err
	}
	c.closeStore()
	return nil
}

func (c *client) closeStore() {
	if !c.ownsStore {
		return
	}
	if err := c.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close store")
	}
}
