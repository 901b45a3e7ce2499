// Package ingest runs ingestion for configured sources. A run moves through
// fetching, processing and persisting, and ends in completed or failed.
// At most one run per source is active at any time.
package ingest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/logging"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/store"
)

// Fetcher opens a record stream for a source.
type Fetcher interface {
	Fetch(ctx context.Context, cfg fetch.SourceConfig) *fetch.Iterator
}

// TriggerResult tells whether a trigger started a run. A rejected trigger
// carries the run that is already active.
type TriggerResult struct {
	Accepted bool        `json:"accepted"`
	Run      records.Run `json:"run"`
}

// handle is the controller's view of an active run.
type handle struct {
	mu     sync.Mutex
	run    records.Run
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) snapshot() records.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run
}

// Controller owns run lifecycles.
type Controller struct {
	cfg        *config
	store      store.Store
	fetcher    Fetcher
	fields     *fieldmap.Table
	reconciler *reconcile.Reconciler
	sources    map[string]fetch.SourceConfig
	order      []string
	listeners  listeners

	mu       sync.Mutex
	active   map[string]*handle
	closed   bool
	inflight sync.WaitGroup
}

// New creates a controller for sources. Every source must be valid and
// have a field mapping for its kind.
func New(st store.Store, fetcher Fetcher, fields *fieldmap.Table, rec *reconcile.Reconciler, sources []fetch.SourceConfig, opts ...Option) (*Controller, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.metrics == nil {
		cfg.metrics = NewMetrics(nil)
	}
	if cfg.logger == nil {
		cfg.logger = logging.Default()
	}

	c := &Controller{
		cfg:        cfg,
		store:      st,
		fetcher:    fetcher,
		fields:     fields,
		reconciler: rec,
		sources:    make(map[string]fetch.SourceConfig, len(sources)),
		active:     make(map[string]*handle),
	}
	for _, src := range sources {
		if src.RunBudget == 0 {
			src.RunBudget = cfg.runBudget
		}
		src = src.WithDefaults()
		if err := src.Validate(); err != nil {
			return nil, errors.NewConfigError("sources", "invalid source "+src.ID, err)
		}
		if _, dup := c.sources[src.ID]; dup {
			return nil, errors.NewConfigError("sources", "duplicate source id "+src.ID, nil)
		}
		if _, ok := fields.Kind(src.Kind); !ok {
			return nil, errors.NewConfigError("sources", "no field mapping for kind "+string(src.Kind), nil)
		}
		c.sources[src.ID] = src
		c.order = append(c.order, src.ID)
	}
	return c, nil
}

// OnEvent registers a listener for run events.
func (c *Controller) OnEvent(fn Listener) {
	c.listeners.add(fn)
}

// Sources returns the configured sources in declaration order.
func (c *Controller) Sources() []fetch.SourceConfig {
	out := make([]fetch.SourceConfig, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.sources[id])
	}
	return out
}

// Source returns one configured source.
func (c *Controller) Source(id string) (fetch.SourceConfig, bool) {
	src, ok := c.sources[id]
	return src, ok
}

// Trigger starts a run for sourceID in the background. The run is detached
// from ctx cancellation but keeps its values (logger, request id). If the
// source already has an active run the trigger is rejected immediately.
func (c *Controller) Trigger(ctx context.Context, sourceID string) (TriggerResult, error) {
	h, existing, err := c.begin(context.WithoutCancel(ctx), sourceID)
	if err != nil {
		return TriggerResult{}, err
	}
	if existing != nil {
		return TriggerResult{Accepted: false, Run: existing.snapshot()}, nil
	}

	run := h.snapshot()
	go c.execute(h)
	return TriggerResult{Accepted: true, Run: run}, nil
}

// Execute runs sourceID synchronously. It returns ErrAlreadyRunning if the
// source has an active run. The returned error is non-nil only when the run
// could not start; a failed run is reported through its state and reason.
func (c *Controller) Execute(ctx context.Context, sourceID string) (records.Run, error) {
	h, existing, err := c.begin(ctx, sourceID)
	if err != nil {
		return records.Run{}, err
	}
	if existing != nil {
		run := existing.snapshot()
		return run, &errors.IngestError{
			Source: sourceID,
			RunID:  run.ID,
			State:  string(run.State),
			Err:    errors.ErrAlreadyRunning,
		}
	}
	return c.execute(h), nil
}

// Cancel cancels the active run of sourceID. It reports whether a run was
// active.
func (c *Controller) Cancel(sourceID string) bool {
	c.mu.Lock()
	h, ok := c.active[sourceID]
	c.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// Shutdown stops accepting runs, cancels the active ones and waits for
// them until ctx is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, h := range c.active {
		h.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the runs currently in progress.
func (c *Controller) Active() []records.Run {
	c.mu.Lock()
	handles := make([]*handle, 0, len(c.active))
	for _, h := range c.active {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	out := make([]records.Run, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.snapshot())
	}
	slices.SortFunc(out, func(a, b records.Run) int { return strings.Compare(a.SourceID, b.SourceID) })
	return out
}

// Runs lists run history, newest first. An empty sourceID lists all
// sources; limit <= 0 means no limit.
func (c *Controller) Runs(ctx context.Context, sourceID string, limit int) ([]records.Run, error) {
	return c.store.ListRuns(ctx, sourceID, limit)
}

// Lookup returns one run. Active runs are served from memory so callers
// see live counters.
func (c *Controller) Lookup(ctx context.Context, id string) (records.Run, error) {
	for _, run := range c.Active() {
		if run.ID == id {
			return run, nil
		}
	}
	return c.store.GetRun(ctx, id)
}

// Wait blocks until the active run of sourceID, if any, has finished.
func (c *Controller) Wait(ctx context.Context, sourceID string) error {
	c.mu.Lock()
	h, ok := c.active[sourceID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin registers a new run, or returns the active handle for sourceID.
func (c *Controller) begin(parent context.Context, sourceID string) (*handle, *handle, error) {
	src, ok := c.sources[sourceID]
	if !ok {
		return nil, nil, errors.NewNotFoundError("source", sourceID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, &errors.IngestError{Source: sourceID, Err: errors.ErrCanceled}
	}
	if h, busy := c.active[sourceID]; busy {
		return nil, h, nil
	}

	ctx, cancel := context.WithCancel(parent)
	h := &handle{
		run: records.Run{
			ID:        uuid.NewString(),
			SourceID:  src.ID,
			Kind:      src.Kind,
			State:     records.StateIdle,
			StartedAt: c.cfg.now().UTC(),
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.active[sourceID] = h
	c.inflight.Add(1)
	return h, nil, nil
}

func (c *Controller) finish(h *handle) {
	c.mu.Lock()
	if c.active[h.run.SourceID] == h {
		delete(c.active, h.run.SourceID)
	}
	c.mu.Unlock()
	h.cancel()
	close(h.done)
	c.inflight.Done()
}

// execute drives one run to a terminal state and returns it.
func (c *Controller) execute(h *handle) records.Run {
	defer c.finish(h)

	run := h.snapshot()
	ctx := logging.WithLogger(h.ctx, c.cfg.logger)
	ctx = logging.WithRun(ctx, run.SourceID, run.ID)
	logger := logging.FromContext(ctx)

	c.cfg.metrics.runStarted()
	c.publish(RunStarted, run)
	logger.Info().Str("kind", string(run.Kind)).Msg("Ingestion run started")

	r := &runner{c: c, h: h, src: c.sources[run.SourceID], runID: run.ID}
	r.run(ctx)

	final := h.snapshot()
	c.cfg.metrics.runFinished(final)
	c.publish(RunFinished, final)

	ev := logger.Info()
	if final.State == records.StateFailed {
		ev = logger.Warn().Str("reason", final.Reason)
	}
	ev.Str("state", string(final.State)).
		Int("pages", final.PagesFetched).
		Int("seen", final.RecordsSeen).
		Int("upserted", final.RecordsUpserted).
		Int("skipped", final.RecordsSkippedUnchanged).
		Int("failed_validation", final.RecordsFailedValidation).
		Int("superseded", final.RecordsSuperseded).
		Int("failed_persistence", final.RecordsFailedPersistence).
		Int("conflicted", final.RecordsConflicted).
		Int("abandoned", final.RecordsAbandoned).
		Int("mismatches", final.MismatchesFound).
		Dur("duration", final.Duration()).
		Msg("Ingestion run finished")
	return final
}

// transition moves the run to next, persists it and publishes an event.
// Invalid transitions are ignored.
func (c *Controller) transition(ctx context.Context, h *handle, next records.State, mutate func(*records.Run)) records.Run {
	h.mu.Lock()
	if !h.run.State.CanTransition(next) {
		run := h.run
		h.mu.Unlock()
		logging.FromContext(ctx).Error().
			Str("from", string(run.State)).
			Str("to", string(next)).
			Msg("Invalid run transition ignored")
		return run
	}
	if mutate != nil {
		mutate(&h.run)
	}
	h.run.State = next
	if next.Terminal() {
		ended := c.cfg.now().UTC()
		h.run.EndedAt = &ended
	}
	run := h.run
	h.mu.Unlock()

	// run history must survive cancellation of the run itself
	if err := c.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("Failed to save run")
	}
	if !next.Terminal() {
		c.publish(RunState, run)
	}
	return run
}

// update applies mutate to the live run without a state change.
func (h *handle) update(mutate func(*records.Run)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mutate(&h.run)
}

func (c *Controller) publish(t EventType, run records.Run) {
	c.listeners.publish(Event{Type: t, Timestamp: time.Now().UTC(), Run: run})
}
