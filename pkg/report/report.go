// Package report summarizes classification drift for people who maintain
// the taxonomy.
package report

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	md "github.com/nao1215/markdown"

	"github.com/agentstation/kstartup/pkg/reconcile"
)

// Value is one distinct observed value of a field.
type Value struct {
	Observed   string               `json:"observed" yaml:"observed"`
	Count      int                  `json:"count" yaml:"count"`
	Suggestion string               `json:"suggestion" yaml:"suggestion"`
	Confidence reconcile.Confidence `json:"confidence" yaml:"confidence"`
	Keys       []string             `json:"keys" yaml:"keys"`
	LastSeen   time.Time            `json:"last_seen" yaml:"last_seen"`
}

// Field groups the drift of one canonical field.
type Field struct {
	Name   string  `json:"field" yaml:"field"`
	Total  int     `json:"total" yaml:"total"`
	Values []Value `json:"values" yaml:"values"`
}

// Summary is the grouped drift report.
type Summary struct {
	Total       int     `json:"total" yaml:"total"`
	Suggested   int     `json:"suggested" yaml:"suggested"`
	Unsuggested int     `json:"unsuggested" yaml:"unsuggested"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// maxKeys bounds the example natural keys kept per value.
const maxKeys = 5

// Summarize groups mismatches by field and observed value. Fields are
// sorted by name and values by descending count.
func Summarize(mismatches []reconcile.Mismatch) Summary {
	type valueKey struct{ field, observed string }
	byValue := make(map[valueKey]*Value)
	fields := make(map[string]*Field)

	var s Summary
	for _, m := range mismatches {
		s.Total++
		if m.NearestCode != nil {
			s.Suggested++
		} else {
			s.Unsuggested++
		}

		f, ok := fields[m.Field]
		if !ok {
			f = &Field{Name: m.Field}
			fields[m.Field] = f
		}
		f.Total++

		k := valueKey{m.Field, m.Observed}
		v, ok := byValue[k]
		if !ok {
			v = &Value{Observed: m.Observed}
			byValue[k] = v
		}
		v.Count++
		if m.ObservedAt.After(v.LastSeen) || v.Suggestion == "" {
			v.Suggestion = m.Suggestion()
			v.Confidence = m.Confidence
		}
		if m.ObservedAt.After(v.LastSeen) {
			v.LastSeen = m.ObservedAt
		}
		if len(v.Keys) < maxKeys && !slices.Contains(v.Keys, m.NaturalKey) {
			v.Keys = append(v.Keys, m.NaturalKey)
		}
	}

	for k, v := range byValue {
		fields[k.field].Values = append(fields[k.field].Values, *v)
	}
	for _, f := range fields {
		slices.SortFunc(f.Values, func(a, b Value) int {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
			return cmp.Compare(a.Observed, b.Observed)
		})
		s.Fields = append(s.Fields, *f)
	}
	slices.SortFunc(s.Fields, func(a, b Field) int { return cmp.Compare(a.Name, b.Name) })
	return s
}

// WriteMarkdown renders the summary as a markdown document.
func WriteMarkdown(w io.Writer, s Summary) error {
	doc := md.NewMarkdown(w)
	doc.H1("Classification drift").LF()

	if s.Total == 0 {
		doc.PlainText("No mismatches recorded.").LF()
		return doc.Build()
	}

	doc.PlainTextf("%s mismatches: %d with a suggested code, %d without.",
		md.Bold(strconv.Itoa(s.Total)), s.Suggested, s.Unsuggested).LF().LF()

	for _, f := range s.Fields {
		doc.H2(fmt.Sprintf("%s (%d)", f.Name, f.Total)).LF()
		rows := make([][]string, 0, len(f.Values))
		for _, v := range f.Values {
			suggestion := v.Suggestion
			if suggestion != "none" {
				suggestion = md.Code(suggestion)
			}
			rows = append(rows, []string{
				v.Observed,
				strconv.Itoa(v.Count),
				suggestion,
				string(v.Confidence),
				v.LastSeen.UTC().Format(time.DateOnly),
			})
		}
		doc.Table(md.TableSet{
			Header: []string{"Observed", "Count", "Suggestion", "Confidence", "Last seen"},
			Rows:   rows,
		}).LF()
	}
	return doc.Build()
}

// WriteMarkdown renders s as a markdown document.
func (s Summary) WriteMarkdown(w io.Writer) error {
	return WriteMarkdown(w, s)
}
