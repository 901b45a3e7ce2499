// Package plan decides, per natural key, whether an incoming record is an
// insert, an update, or an unchanged skip. It never writes; the run
// controller batches the resulting decisions.
package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/agentstation/kstartup/pkg/records"
)

// Action is the planned write for one record.
type Action string

// Planned actions.
const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Decision is the plan for one record.
type Decision struct {
	Action Action
	Reason string
	Hash   string

	// Changed lists canonical fields that differ from the stored document.
	Changed []string

	Record records.NormalizedRecord
}

// Writes reports whether the decision needs a store write.
func (d Decision) Writes() bool {
	return d.Action == ActionInsert || d.Action == ActionUpdate
}

// Document returns the document to store for this decision.
func (d Decision) Document() records.Document {
	return d.Record.Document(d.Hash)
}

// Getter is the read-by-key half of the persistence gateway.
type Getter interface {
	GetByKey(ctx context.Context, kind records.Kind, naturalKey string) (records.Document, bool, error)
}

// Plan compares rec with the stored state of its natural key.
func Plan(ctx context.Context, rec records.NormalizedRecord, store Getter) (Decision, error) {
	hash := Hash(rec)
	d := Decision{Hash: hash, Record: rec}

	existing, found, err := store.GetByKey(ctx, rec.Kind, rec.NaturalKey)
	if err != nil {
		return d, fmt.Errorf("looking up %s %s: %w", rec.Kind, rec.NaturalKey, err)
	}
	if !found {
		d.Action, d.Reason = ActionInsert, "not stored"
		return d, nil
	}

	stored := existing.ContentHash
	if stored == "" {
		stored = HashDocument(existing)
	}
	if stored == hash {
		d.Action, d.Reason = ActionSkip, "unchanged"
		return d, nil
	}

	d.Action = ActionUpdate
	d.Changed = Diff(rec, existing)
	d.Reason = "changed: " + strings.Join(d.Changed, ", ")
	return d, nil
}

// Hash is the content hash of a record. The fetch timestamp and stream
// position are excluded so identical upstream content hashes identically
// across runs.
func Hash(rec records.NormalizedRecord) string {
	fields := make(map[string]string, len(rec.Fields))
	for name, v := range rec.Fields {
		fields[name] = v.String()
	}
	return hash(rec.Kind, rec.NaturalKey, fields)
}

// HashDocument hashes a stored document the same way Hash hashes a record.
func HashDocument(doc records.Document) string {
	fields := make(map[string]string, len(doc.Fields))
	for name, v := range doc.Fields {
		fields[name] = records.Canonical(v)
	}
	return hash(doc.Kind, doc.NaturalKey, fields)
}

func hash(kind records.Kind, key string, fields map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", kind, key)
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		fmt.Fprintf(h, "%s=%s\x00", name, fields[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Diff returns the sorted canonical names whose values differ.
func Diff(rec records.NormalizedRecord, doc records.Document) []string {
	names := make(map[string]bool)
	for name, v := range rec.Fields {
		old, ok := doc.Fields[name]
		if !ok || records.Canonical(old) != v.String() {
			names[name] = true
		}
	}
	for name := range doc.Fields {
		if _, ok := rec.Fields[name]; !ok {
			names[name] = true
		}
	}
	return slices.Sorted(maps.Keys(names))
}
