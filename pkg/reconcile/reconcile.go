// Package reconcile checks classification values against the taxonomy and
// reports drift. Drift is never an error: every record passes through
// unchanged and mismatches travel on a side channel.
package reconcile

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/agentstation/kstartup/internal/utils/ptr"
	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/taxonomy"
)

// Confidence grades a suggested taxonomy code.
type Confidence string

// Confidence levels.
const (
	// ConfidenceHigh means the folded value equals a description or code.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium means one folded form contains the other.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceNone means no suggestion could be made.
	ConfidenceNone Confidence = "none"
)

// Mismatch is one observed classification value that is not a known code.
type Mismatch struct {
	NaturalKey  string          `json:"natural_key" yaml:"natural_key"`
	Kind        records.Kind    `json:"kind" yaml:"kind"`
	Field       string          `json:"field" yaml:"field"`
	Domain      taxonomy.Domain `json:"domain" yaml:"domain"`
	Observed    string          `json:"observed" yaml:"observed"`
	NearestCode *string         `json:"nearest_code" yaml:"nearest_code"`
	Confidence  Confidence      `json:"confidence" yaml:"confidence"`
	RunID       string          `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ObservedAt  time.Time       `json:"observed_at" yaml:"observed_at"`
}

// Suggestion returns the suggested code or "none".
func (m Mismatch) Suggestion() string {
	return ptr.Or(m.NearestCode, "none")
}

type foldedEntry struct {
	entry taxonomy.Entry
	desc  string
	code  string
}

// Reconciler is safe for concurrent use; it only reads its tables.
type Reconciler struct {
	fields *fieldmap.Table
	exact  map[taxonomy.Domain]map[string]bool
	folded map[taxonomy.Domain][]foldedEntry
}

// New indexes the taxonomy for the classified fields of the mapping table.
func New(tax *taxonomy.Table, fields *fieldmap.Table) *Reconciler {
	r := &Reconciler{
		fields: fields,
		exact:  make(map[taxonomy.Domain]map[string]bool),
		folded: make(map[taxonomy.Domain][]foldedEntry),
	}
	for _, d := range taxonomy.Domains() {
		r.exact[d] = make(map[string]bool)
		for _, e := range tax.Entries(d) {
			r.exact[d][e.Code] = true
			r.exact[d][e.Description] = true
			r.folded[d] = append(r.folded[d], foldedEntry{entry: e, desc: Fold(e.Description), code: Fold(e.Code)})
		}
	}
	return r
}

// Reconcile checks every classification-bearing field of rec. The record
// is returned unchanged.
func (r *Reconciler) Reconcile(rec records.NormalizedRecord) (records.NormalizedRecord, []Mismatch) {
	kt, ok := r.fields.Kind(rec.Kind)
	if !ok {
		return rec, nil
	}

	var out []Mismatch
	for _, m := range kt.Classified() {
		v, ok := rec.Get(m.Canonical)
		if !ok || v.Null {
			continue
		}
		for _, observed := range values(v.String(), m.MultiValued) {
			if r.exact[m.Domain][observed] {
				continue
			}
			code, conf := r.Suggest(m.Domain, observed)
			out = append(out, Mismatch{
				NaturalKey:  rec.NaturalKey,
				Kind:        rec.Kind,
				Field:       m.Canonical,
				Domain:      m.Domain,
				Observed:    observed,
				NearestCode: code,
				Confidence:  conf,
				ObservedAt:  rec.SourceFetchedAt.Time,
			})
		}
	}
	return rec, out
}

// Suggest finds the nearest code for an observed value by folded
// comparison. Equality beats containment, longer containment beats
// shorter, and remaining ties go to the lowest code.
func (r *Reconciler) Suggest(domain taxonomy.Domain, observed string) (*string, Confidence) {
	f := Fold(observed)
	if f == "" {
		return nil, ConfidenceNone
	}

	for _, fe := range r.folded[domain] {
		if f == fe.desc || f == fe.code {
			return ptr.To(fe.entry.Code), ConfidenceHigh
		}
	}

	var best *foldedEntry
	bestOverlap := 0
	for i, fe := range r.folded[domain] {
		if overlap := containment(f, fe.desc); overlap > bestOverlap {
			best, bestOverlap = &r.folded[domain][i], overlap
		}
	}
	if best == nil {
		return nil, ConfidenceNone
	}
	return ptr.To(best.entry.Code), ConfidenceMedium
}

// minOverlap keeps single syllables from matching everything.
const minOverlap = 2

// containment returns the rune length of the shorter string when one
// contains the other, else 0.
func containment(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	n := utf8.RuneCountInString(short)
	if n < minOverlap || !strings.Contains(long, short) {
		return 0
	}
	return n
}

func values(s string, multi bool) []string {
	if !multi {
		if s = strings.TrimSpace(s); s == "" {
			return nil
		}
		return []string{s}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Fold reduces s to a comparison key: compatibility normalized, width and
// case folded, with whitespace, punctuation and symbols removed.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	s = cases.Fold().String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
}
