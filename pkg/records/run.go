package records

import (
	"slices"
	"time"
)

// State is a phase of an ingestion run.
type State string

// Run states. A run moves forward through fetching, processing and
// persisting, and ends in completed or failed.
const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Active reports whether a run in this state blocks a new run of the same source.
func (s State) Active() bool {
	return slices.Contains([]State{StateFetching, StateProcessing, StatePersisting}, s)
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	order := []State{StateIdle, StateFetching, StateProcessing, StatePersisting, StateCompleted}
	return slices.Index(order, next) == slices.Index(order, s)+1
}

// Stats are the counters of one run. Every record the fetcher yielded
// lands in exactly one outcome counter.
type Stats struct {
	PagesFetched             int `json:"pages_fetched" yaml:"pages_fetched"`
	RecordsSeen              int `json:"records_seen" yaml:"records_seen"`
	RecordsUpserted          int `json:"records_upserted" yaml:"records_upserted"`
	RecordsInserted          int `json:"records_inserted" yaml:"records_inserted"`
	RecordsUpdated           int `json:"records_updated" yaml:"records_updated"`
	RecordsSkippedUnchanged  int `json:"records_skipped_unchanged" yaml:"records_skipped_unchanged"`
	RecordsFailedValidation  int `json:"records_failed_validation" yaml:"records_failed_validation"`
	RecordsSuperseded        int `json:"records_superseded" yaml:"records_superseded"`
	RecordsFailedPersistence int `json:"records_failed_persistence" yaml:"records_failed_persistence"`
	RecordsConflicted        int `json:"records_conflicted" yaml:"records_conflicted"`
	RecordsAbandoned         int `json:"records_abandoned" yaml:"records_abandoned"`
	MismatchesFound          int `json:"mismatches_found" yaml:"mismatches_found"`
}

// Accounted sums the outcome counters. For a finished run it equals RecordsSeen.
func (s Stats) Accounted() int {
	return s.RecordsUpserted + s.RecordsSkippedUnchanged + s.RecordsFailedValidation +
		s.RecordsSuperseded + s.RecordsFailedPersistence + s.RecordsConflicted + s.RecordsAbandoned
}

// Run is the audit record of one ingestion run.
type Run struct {
	ID        string     `json:"id" yaml:"id"`
	SourceID  string     `json:"source_id" yaml:"source_id"`
	Kind      Kind       `json:"kind" yaml:"kind"`
	State     State      `json:"state" yaml:"state"`
	Reason    string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	Drained   bool       `json:"drained,omitempty" yaml:"drained,omitempty"`
	StartedAt time.Time  `json:"started_at" yaml:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`

	Stats `yaml:",inline"`
}

// Duration returns the elapsed time of the run so far.
func (r Run) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
