// Package normalize turns raw upstream items into canonical records.
//
// Normalize is a pure function of its inputs: no I/O and no shared mutable
// state, so callers may run it on many records concurrently against the
// same read-only mapping table.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/utc"
	"golang.org/x/text/unicode/norm"

	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/records"
)

// kst is the zone of upstream timestamps that carry no offset.
var kst = time.FixedZone("KST", 9*60*60)

// Warning describes an optional field that was dropped during coercion.
type Warning struct {
	Field  string         `json:"field"`
	Reason records.Reason `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// Result holds exactly one of Record or Failure.
type Result struct {
	Record   *records.NormalizedRecord
	Failure  *records.ValidationFailure
	Warnings []Warning
}

// OK reports whether normalization produced a record.
func (r Result) OK() bool {
	return r.Record != nil
}

// coerceError is a coercion failure of one field.
type coerceError struct {
	reason records.Reason
	detail string
}

// Normalize maps raw into the canonical schema of kind. fetchedAt and seq
// are carried through to the record; seq orders records within a run.
func Normalize(raw records.RawRecord, table *fieldmap.Table, kind records.Kind, fetchedAt time.Time, seq int64) Result {
	kt, ok := table.Kind(kind)
	if !ok {
		return Result{Failure: &records.ValidationFailure{
			Kind:   kind,
			Field:  "kind",
			Reason: records.ReasonMissing,
			Detail: "no field mapping for kind",
			Seq:    seq,
		}}
	}

	fail := func(key string, field string, cerr *coerceError) Result {
		return Result{Failure: &records.ValidationFailure{
			Kind:       kind,
			NaturalKey: key,
			Field:      field,
			Reason:     cerr.reason,
			Detail:     cerr.detail,
			Seq:        seq,
		}}
	}

	// The natural key goes first so later failures can name the record.
	keyMapping, _ := kt.Field(kt.NaturalKey)
	keyValue, cerr := coerce(raw, keyMapping, table)
	if cerr != nil {
		return fail("", keyMapping.Canonical, cerr)
	}
	naturalKey := keyValue.String()

	rec := &records.NormalizedRecord{
		Kind:            kind,
		NaturalKey:      naturalKey,
		Fields:          make(map[string]records.Value, len(kt.Fields)),
		SourceFetchedAt: utc.Time{Time: fetchedAt.UTC()},
		Seq:             seq,
	}
	rec.Fields[keyMapping.Canonical] = keyValue

	var warnings []Warning
	for _, m := range kt.Fields {
		if m.Canonical == kt.NaturalKey {
			continue
		}
		v, cerr := coerce(raw, m, table)
		if cerr == nil {
			rec.Fields[m.Canonical] = v
			continue
		}
		if m.Required {
			return fail(naturalKey, m.Canonical, cerr)
		}
		if cerr.reason != records.ReasonMissing {
			warnings = append(warnings, Warning{Field: m.Canonical, Reason: cerr.reason, Detail: cerr.detail})
		}
	}

	return Result{Record: rec, Warnings: warnings}
}

// extract finds the first present name of m in raw.
func extract(raw records.RawRecord, m fieldmap.Mapping) (any, bool) {
	for _, name := range m.Names() {
		if v, _, ok := raw.Lookup(name); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func coerce(raw records.RawRecord, m fieldmap.Mapping, table *fieldmap.Table) (records.Value, *coerceError) {
	v, present := extract(raw, m)

	if m.Type == records.TypeNullableString {
		if !present {
			return records.NullValue(), nil
		}
		s, cerr := asString(v)
		if cerr != nil {
			return records.Value{}, cerr
		}
		if s == "" {
			return records.NullValue(), nil
		}
		return records.Value{Type: records.TypeNullableString, Str: s}, nil
	}

	if !present {
		return records.Value{}, &coerceError{reason: records.ReasonMissing}
	}

	switch m.Type {
	case records.TypeString:
		s, cerr := asString(v)
		if cerr != nil {
			return records.Value{}, cerr
		}
		if s == "" {
			return records.Value{}, &coerceError{reason: records.ReasonMissing, detail: "empty string"}
		}
		return records.StringValue(s), nil

	case records.TypeInt:
		return asInt(v)

	case records.TypeDate:
		return asDate(v, table.Formats(m))
	}

	return records.Value{}, &coerceError{reason: records.ReasonTypeMismatch, detail: fmt.Sprintf("unsupported type %s", m.Type)}
}

func asString(v any) (string, *coerceError) {
	switch x := v.(type) {
	case string:
		return norm.NFC.String(strings.TrimSpace(x)), nil
	case json.Number:
		return x.String(), nil
	case float64:
		return records.Canonical(x), nil
	case int, int64:
		return records.Canonical(x), nil
	default:
		return "", &coerceError{reason: records.ReasonTypeMismatch, detail: fmt.Sprintf("expected string, got %T", v)}
	}
}

func asInt(v any) (records.Value, *coerceError) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return records.IntValue(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return records.Value{}, &coerceError{reason: records.ReasonUnparseable, detail: x.String()}
		}
		return intFromFloat(f)
	case float64:
		return intFromFloat(x)
	case int:
		return records.IntValue(int64(x)), nil
	case int64:
		return records.IntValue(x), nil
	case string:
		s := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(x))
		if s == "" {
			return records.Value{}, &coerceError{reason: records.ReasonMissing, detail: "empty string"}
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return records.Value{}, &coerceError{reason: records.ReasonUnparseable, detail: strconv.Quote(x)}
		}
		return records.IntValue(n), nil
	default:
		return records.Value{}, &coerceError{reason: records.ReasonTypeMismatch, detail: fmt.Sprintf("expected integer, got %T", v)}
	}
}

func intFromFloat(f float64) (records.Value, *coerceError) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
		return records.Value{}, &coerceError{reason: records.ReasonTypeMismatch, detail: fmt.Sprintf("%v is not an integer", f)}
	}
	return records.IntValue(int64(f)), nil
}

func asDate(v any, layouts []string) (records.Value, *coerceError) {
	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case json.Number:
		// yyyymmdd sometimes arrives unquoted
		s = x.String()
	default:
		return records.Value{}, &coerceError{reason: records.ReasonTypeMismatch, detail: fmt.Sprintf("expected date string, got %T", v)}
	}
	if s == "" {
		return records.Value{}, &coerceError{reason: records.ReasonMissing, detail: "empty string"}
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, kst); err == nil {
			return records.DateValue(t), nil
		}
	}
	return records.Value{}, &coerceError{
		reason: records.ReasonUnparseable,
		detail: fmt.Sprintf("%q matches none of %v", s, layouts),
	}
}
