package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/logging"
	"github.com/agentstation/kstartup/pkg/normalize"
	"github.com/agentstation/kstartup/pkg/plan"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/store"
)

// reasonCanceled is the failure reason of a canceled run.
const reasonCanceled = "canceled"

// runner executes the phases of one run. Counters accumulate in stats and
// are copied to the handle at every transition.
type runner struct {
	c     *Controller
	h     *handle
	src   fetch.SourceConfig
	runID string

	mu         sync.Mutex
	stats      records.Stats
	mismatches []reconcile.Mismatch
	tracker    *plan.Tracker
	drained    bool
}

func (r *runner) snapshotStats() func(*records.Run) {
	r.mu.Lock()
	stats := r.stats
	drained := r.drained
	r.mu.Unlock()
	return func(run *records.Run) {
		run.Stats = stats
		run.Drained = drained
	}
}

func (r *runner) fail(ctx context.Context, reason string) {
	snap := r.snapshotStats()
	r.c.transition(ctx, r.h, records.StateFailed, func(run *records.Run) {
		snap(run)
		run.Reason = reason
	})
}

// abandon counts n records that will not be written.
func (r *runner) abandon(n int) {
	r.mu.Lock()
	r.stats.RecordsAbandoned += n
	r.mu.Unlock()
}

func (r *runner) run(ctx context.Context) {
	r.tracker = plan.NewTracker()

	r.c.transition(ctx, r.h, records.StateFetching, nil)
	if err := r.stream(ctx); err != nil {
		// nothing of a broken stream is persisted
		r.abandon(r.tracker.Len())
		r.reportMismatches(ctx)
		if errors.IsCanceled(err) {
			r.fail(ctx, reasonCanceled)
			return
		}
		r.fail(ctx, err.Error())
		return
	}
	r.reportMismatches(ctx)

	r.c.transition(ctx, r.h, records.StateProcessing, r.snapshotStats())
	pending, err := r.plan(ctx)
	if err != nil {
		r.fail(ctx, reasonCanceled)
		return
	}

	r.c.transition(ctx, r.h, records.StatePersisting, r.snapshotStats())
	if err := r.persist(ctx, pending); err != nil {
		r.fail(ctx, reasonCanceled)
		return
	}

	snap := r.snapshotStats()
	run := r.c.transition(ctx, r.h, records.StateCompleted, snap)
	if run.Accounted() != run.RecordsSeen {
		logging.FromContext(ctx).Error().
			Int("seen", run.RecordsSeen).
			Int("accounted", run.Accounted()).
			Msg("Run counters do not add up")
	}
}

// stream consumes the fetcher into a bounded worker pool running the
// normalizer and reconciler. Survivors are offered to the tracker.
func (r *runner) stream(ctx context.Context) error {
	it := r.c.fetcher.Fetch(ctx, r.src)
	defer it.Close()

	var g errgroup.Group
	g.SetLimit(r.c.cfg.workers)

	var seq int64
	pages := 0
	for it.Next(ctx) {
		seq++
		raw, fetchedAt, n := it.Record(), it.FetchedAt(), seq

		r.mu.Lock()
		r.stats.RecordsSeen++
		r.stats.PagesFetched = it.Pages()
		r.mu.Unlock()
		if p := it.Pages(); p != pages {
			pages = p
			r.h.update(r.snapshotStats())
		}

		g.Go(func() error {
			r.process(ctx, raw, fetchedAt, n)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	r.stats.PagesFetched = it.Pages()
	r.stats.RecordsSuperseded = r.tracker.Superseded()
	r.drained = it.Drained()
	r.mu.Unlock()
	return it.Err()
}

func (r *runner) process(ctx context.Context, raw records.RawRecord, fetchedAt time.Time, seq int64) {
	res := normalize.Normalize(raw, r.c.fields, r.src.Kind, fetchedAt, seq)
	if !res.OK() {
		logging.FromContext(ctx).Debug().
			Str("natural_key", res.Failure.NaturalKey).
			Str("field", res.Failure.Field).
			Str("reason", string(res.Failure.Reason)).
			Str("detail", res.Failure.Detail).
			Msg("Record failed validation")
		r.mu.Lock()
		r.stats.RecordsFailedValidation++
		r.mu.Unlock()
		return
	}
	for _, w := range res.Warnings {
		logging.FromContext(ctx).Debug().
			Str("natural_key", res.Record.NaturalKey).
			Str("field", w.Field).
			Str("reason", string(w.Reason)).
			Msg("Optional field dropped")
	}

	rec, found := r.c.reconciler.Reconcile(*res.Record)
	if len(found) > 0 {
		r.mu.Lock()
		for _, m := range found {
			m.RunID = r.runID
			r.mismatches = append(r.mismatches, m)
		}
		r.stats.MismatchesFound += len(found)
		r.mu.Unlock()
	}
	r.tracker.Offer(rec)
}

// reportMismatches appends the run's mismatches to the drift report.
// The report is best effort: a failure is logged and the run goes on.
func (r *runner) reportMismatches(ctx context.Context) {
	r.mu.Lock()
	found := r.mismatches
	r.mismatches = nil
	r.mu.Unlock()
	if len(found) == 0 {
		return
	}

	for _, m := range found {
		r.c.cfg.metrics.mismatch(r.src.ID, m.Field)
	}
	if err := r.c.store.AppendMismatches(context.WithoutCancel(ctx), found); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Int("count", len(found)).Msg("Failed to append mismatches")
	}
}

// plan looks up every surviving record and returns the decisions that need
// a write. Only cancellation is returned as an error; lookups that fail
// count the record as failed persistence.
func (r *runner) plan(ctx context.Context) ([]plan.Decision, error) {
	survivors := r.tracker.Records()
	decisions := make([]plan.Decision, len(survivors))
	errs := make([]error, len(survivors))

	var g errgroup.Group
	g.SetLimit(r.c.cfg.workers)
	for i, rec := range survivors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			decisions[i], errs[i] = plan.Plan(ctx, rec, r.c.store)
			return nil
		})
	}
	_ = g.Wait()

	logger := logging.FromContext(ctx)
	var pending []plan.Decision
	abandoned := 0
	r.mu.Lock()
	for i, d := range decisions {
		switch err := errs[i]; {
		case err != nil && ctx.Err() != nil:
			abandoned++
		case err != nil:
			logger.Warn().Err(err).Str("natural_key", survivors[i].NaturalKey).Msg("Lookup failed")
			r.stats.RecordsFailedPersistence++
		case d.Writes():
			pending = append(pending, d)
		default:
			r.stats.RecordsSkippedUnchanged++
		}
	}
	r.mu.Unlock()

	if ctx.Err() != nil {
		r.abandon(abandoned + len(pending))
		return nil, ctx.Err()
	}
	return pending, nil
}

// persist writes pending decisions in batches. A batch already started is
// finished even if the run is canceled meanwhile; later batches are
// abandoned.
func (r *runner) persist(ctx context.Context, pending []plan.Decision) error {
	size := r.c.cfg.batchSize
	for start := 0; start < len(pending); start += size {
		if err := ctx.Err(); err != nil {
			r.abandon(len(pending) - start)
			return err
		}
		batch := pending[start:min(start+size, len(pending))]
		r.writeBatch(context.WithoutCancel(ctx), batch)
		r.h.update(r.snapshotStats())
	}
	return nil
}

func (r *runner) writeBatch(ctx context.Context, batch []plan.Decision) {
	docs := make([]records.Document, len(batch))
	for i, d := range batch {
		docs[i] = d.Document()
	}

	logger := logging.FromContext(ctx)
	var (
		outcomes []store.Outcome
		err      error
	)
	for attempt := 0; attempt <= r.c.cfg.batchRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.c.cfg.batchBackoff << (attempt - 1))
		}
		outcomes, err = r.upsert(ctx, docs)
		if err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt+1).Int("size", len(docs)).Msg("Batch write failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.stats.RecordsFailedPersistence += len(batch)
		return
	}
	for i, d := range batch {
		if outcomes[i] == store.OutcomeConflict {
			r.stats.RecordsConflicted++
			continue
		}
		r.stats.RecordsUpserted++
		if d.Action == plan.ActionInsert {
			r.stats.RecordsInserted++
		} else {
			r.stats.RecordsUpdated++
		}
	}
}

// upsert uses the store's batch path when it has one.
func (r *runner) upsert(ctx context.Context, docs []records.Document) ([]store.Outcome, error) {
	if b, ok := r.c.store.(store.BatchUpserter); ok {
		out, err := b.UpsertBatch(ctx, docs)
		if err == nil && len(out) != len(docs) {
			return nil, errors.NewResourceError("upsert", "record batch", "",
				fmt.Errorf("store returned %d outcomes for %d documents", len(out), len(docs)))
		}
		return out, err
	}

	out := make([]store.Outcome, len(docs))
	for i, doc := range docs {
		o, err := r.c.store.UpsertByKey(ctx, doc.Kind, doc.NaturalKey, doc)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}
