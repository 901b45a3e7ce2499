// Package store defines the persistence gateway consumed by the ingestion
// pipeline. The pipeline only ever reads and writes single documents by
// natural key; it issues no ad-hoc queries.
package store

import (
	"context"
	"time"

	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
)

// Outcome is the result of one upsert.
type Outcome string

// Upsert outcomes.
const (
	// OutcomeSuccess means the document was written.
	OutcomeSuccess Outcome = "success"
	// OutcomeConflict means the store kept a document fetched later than
	// the incoming one.
	OutcomeConflict Outcome = "conflict"
)

// Gateway is the upsert-by-key contract. Implementations must be safe for
// concurrent calls with the same key; the newest SourceFetchedAt wins.
type Gateway interface {
	GetByKey(ctx context.Context, kind records.Kind, naturalKey string) (records.Document, bool, error)
	UpsertByKey(ctx context.Context, kind records.Kind, naturalKey string, doc records.Document) (Outcome, error)
}

// BatchUpserter is implemented by gateways that can write many documents
// in one round trip. A returned error means no outcome can be trusted and
// the whole batch should be retried.
type BatchUpserter interface {
	UpsertBatch(ctx context.Context, docs []records.Document) ([]Outcome, error)
}

// MismatchFilter narrows a mismatch listing.
type MismatchFilter struct {
	Kind  records.Kind
	Field string
	RunID string
	Since time.Time
	Limit int
}

// Match reports whether m passes the filter, ignoring Limit.
func (f MismatchFilter) Match(m reconcile.Mismatch) bool {
	switch {
	case f.Kind != "" && m.Kind != f.Kind:
		return false
	case f.Field != "" && m.Field != f.Field:
		return false
	case f.RunID != "" && m.RunID != f.RunID:
		return false
	case !f.Since.IsZero() && m.ObservedAt.Before(f.Since):
		return false
	}
	return true
}

// MismatchSink is the append-only classification drift report.
type MismatchSink interface {
	AppendMismatches(ctx context.Context, mismatches []reconcile.Mismatch) error
	Mismatches(ctx context.Context, filter MismatchFilter) ([]reconcile.Mismatch, error)
}

// RunStore keeps ingestion run history.
type RunStore interface {
	SaveRun(ctx context.Context, run records.Run) error
	GetRun(ctx context.Context, id string) (records.Run, error)
	ListRuns(ctx context.Context, sourceID string, limit int) ([]records.Run, error)
}

// Store bundles everything a backend provides.
type Store interface {
	Gateway
	MismatchSink
	RunStore
	Close() error
}

// Newer reports whether an incoming document must lose to the stored one.
func Newer(stored, incoming records.Document) bool {
	return stored.SourceFetchedAt.After(incoming.SourceFetchedAt)
}
