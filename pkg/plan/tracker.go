package plan

import (
	"cmp"
	"slices"
	"sync"

	"github.com/agentstation/kstartup/pkg/records"
)

type trackerKey struct {
	kind records.Kind
	key  string
}

// Tracker collapses duplicates of a natural key within one run. The
// record seen last in the fetch stream (highest Seq) wins regardless of
// the order in which concurrent workers offer them.
type Tracker struct {
	mu         sync.Mutex
	latest     map[trackerKey]records.NormalizedRecord
	superseded int
}

// NewTracker creates an empty tracker for one run.
func NewTracker() *Tracker {
	return &Tracker{latest: make(map[trackerKey]records.NormalizedRecord)}
}

// Offer registers rec. It returns false when rec itself was superseded by
// a later occurrence already held.
func (t *Tracker) Offer(rec records.NormalizedRecord) bool {
	k := trackerKey{kind: rec.Kind, key: rec.NaturalKey}

	t.mu.Lock()
	defer t.mu.Unlock()

	held, ok := t.latest[k]
	if !ok {
		t.latest[k] = rec
		return true
	}
	t.superseded++
	if held.Seq > rec.Seq {
		return false
	}
	t.latest[k] = rec
	return true
}

// Superseded returns how many occurrences lost to a later duplicate.
func (t *Tracker) Superseded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.superseded
}

// Len returns the number of distinct keys held.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.latest)
}

// Records returns the surviving records in stream order.
func (t *Tracker) Records() []records.NormalizedRecord {
	t.mu.Lock()
	out := make([]records.NormalizedRecord, 0, len(t.latest))
	for _, rec := range t.latest {
		out = append(out, rec)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b records.NormalizedRecord) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}
