package records

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/agentstation/utc"
)

// NormalizedRecord is one upstream item in the canonical schema.
// Every required field of its kind is present and correctly typed.
type NormalizedRecord struct {
	Kind            Kind
	NaturalKey      string
	Fields          map[string]Value
	SourceFetchedAt utc.Time

	// Seq is the position of the record in its run's fetch stream.
	Seq int64
}

// Get returns a canonical field value.
func (r NormalizedRecord) Get(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// FieldNames returns canonical field names in sorted order.
func (r NormalizedRecord) FieldNames() []string {
	return slices.Sorted(maps.Keys(r.Fields))
}

// Document converts the record to its stored shape.
func (r NormalizedRecord) Document(contentHash string) Document {
	fields := make(map[string]any, len(r.Fields))
	for name, v := range r.Fields {
		fields[name] = v.Any()
	}
	return Document{
		Kind:            r.Kind,
		NaturalKey:      r.NaturalKey,
		Fields:          fields,
		ContentHash:     contentHash,
		SourceFetchedAt: r.SourceFetchedAt.Time,
	}
}

// Document is what the persistence gateway stores per natural key.
type Document struct {
	Kind            Kind           `json:"kind" yaml:"kind"`
	NaturalKey      string         `json:"natural_key" yaml:"natural_key"`
	Fields          map[string]any `json:"fields" yaml:"fields"`
	ContentHash     string         `json:"content_hash" yaml:"content_hash"`
	SourceFetchedAt time.Time      `json:"source_fetched_at" yaml:"source_fetched_at"`
}

// Reason classifies a validation failure.
type Reason string

// Validation failure reasons.
const (
	ReasonMissing      Reason = "missing"
	ReasonTypeMismatch Reason = "type_mismatch"
	ReasonUnparseable  Reason = "unparseable"
)

// ValidationFailure replaces a record that could not be normalized.
// It is data, not an error: the run records it and moves on.
type ValidationFailure struct {
	Kind       Kind   `json:"kind"`
	NaturalKey string `json:"natural_key,omitempty"`
	Field      string `json:"field"`
	Reason     Reason `json:"reason"`
	Detail     string `json:"detail,omitempty"`
	Seq        int64  `json:"seq"`
}

// Error lets a failure be logged or returned where an error is expected.
func (f ValidationFailure) Error() string {
	key := f.NaturalKey
	if key == "" {
		key = "<unknown>"
	}
	if f.Detail != "" {
		return fmt.Sprintf("%s %s: field %s %s: %s", f.Kind, key, f.Field, f.Reason, f.Detail)
	}
	return fmt.Sprintf("%s %s: field %s %s", f.Kind, key, f.Field, f.Reason)
}
