// Package memory is an in-process Store used by tests, the CLI's dry runs,
// and single-node deployments that do not need durability.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/store"
)

var (
	_ store.Store         = (*Store)(nil)
	_ store.BatchUpserter = (*Store)(nil)
)

type docKey struct {
	kind records.Kind
	key  string
}

// Store keeps documents, mismatches and runs in maps.
type Store struct {
	mu         sync.RWMutex
	docs       map[docKey]records.Document
	mismatches []reconcile.Mismatch
	runs       map[string]records.Run
	runOrder   []string
	maxRuns    int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:    make(map[docKey]records.Document),
		runs:    make(map[string]records.Run),
		maxRuns: constants.MaxRunHistory,
	}
}

// GetByKey implements store.Gateway.
func (s *Store) GetByKey(ctx context.Context, kind records.Kind, naturalKey string) (records.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return records.Document{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docKey{kind, naturalKey}]
	return doc, ok, nil
}

// UpsertByKey implements store.Gateway.
func (s *Store) UpsertByKey(ctx context.Context, kind records.Kind, naturalKey string, doc records.Document) (store.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(kind, naturalKey, doc), nil
}

func (s *Store) upsertLocked(kind records.Kind, naturalKey string, doc records.Document) store.Outcome {
	k := docKey{kind, naturalKey}
	if held, ok := s.docs[k]; ok && store.Newer(held, doc) {
		return store.OutcomeConflict
	}
	doc.Kind, doc.NaturalKey = kind, naturalKey
	s.docs[k] = doc
	return store.OutcomeSuccess
}

// UpsertBatch implements store.BatchUpserter.
func (s *Store) UpsertBatch(ctx context.Context, docs []records.Document) ([]store.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Outcome, len(docs))
	for i, doc := range docs {
		out[i] = s.upsertLocked(doc.Kind, doc.NaturalKey, doc)
	}
	return out, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Documents returns every stored document of a kind.
func (s *Store) Documents(kind records.Kind) []records.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []records.Document
	for k, doc := range s.docs {
		if k.kind == kind {
			out = append(out, doc)
		}
	}
	slices.SortFunc(out, func(a, b records.Document) int {
		return strings.Compare(a.NaturalKey, b.NaturalKey)
	})
	return out
}

// AppendMismatches implements store.MismatchSink.
func (s *Store) AppendMismatches(_ context.Context, mismatches []reconcile.Mismatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mismatches = append(s.mismatches, mismatches...)
	return nil
}

// Mismatches implements store.MismatchSink. Newest entries come first.
func (s *Store) Mismatches(_ context.Context, filter store.MismatchFilter) ([]reconcile.Mismatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []reconcile.Mismatch
	for i := len(s.mismatches) - 1; i >= 0; i-- {
		m := s.mismatches[i]
		if !filter.Match(m) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// SaveRun implements store.RunStore.
func (s *Store) SaveRun(_ context.Context, run records.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = run

	for len(s.runOrder) > s.maxRuns {
		oldest := s.runOrder[0]
		if !s.runs[oldest].State.Terminal() {
			break
		}
		delete(s.runs, oldest)
		s.runOrder = s.runOrder[1:]
	}
	return nil
}

// GetRun implements store.RunStore.
func (s *Store) GetRun(_ context.Context, id string) (records.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return records.Run{}, errors.NewNotFoundError("run", id)
	}
	return run, nil
}

// ListRuns implements store.RunStore. Newest runs come first.
func (s *Store) ListRuns(_ context.Context, sourceID string, limit int) ([]records.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []records.Run
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if sourceID != "" && run.SourceID != sourceID {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}
