package output

import (
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/report"
	"github.com/agentstation/kstartup/pkg/taxonomy"
)

const timeLayout = "2006-01-02 15:04:05"

// Sources renders configured sources, marking those with an active run.
func Sources(sources []fetch.SourceConfig, active []records.Run) Data {
	running := make(map[string]string, len(active))
	for _, run := range active {
		running[run.SourceID] = string(run.State)
	}

	d := Data{
		Title:        "Sources",
		Headers:      []string{"ID", "Kind", "Path", "Per page", "Max pages", "Auth", "Active"},
		RightAligned: []int{3, 4},
	}
	for _, src := range sources {
		d.Rows = append(d.Rows, []string{
			src.ID,
			string(src.Kind),
			src.Path,
			strconv.Itoa(src.PerPage),
			strconv.Itoa(src.MaxPages),
			src.Auth,
			running[src.ID],
		})
	}
	return d
}

// Runs renders run history, one line per run.
func Runs(runs []records.Run) Data {
	d := Data{
		Title:        "Runs",
		Headers:      []string{"ID", "Source", "State", "Started", "Duration", "Seen", "Upserted", "Skipped", "Failed", "Superseded", "Conflicted", "Abandoned", "Mismatches", "Reason"},
		RightAligned: []int{5, 6, 7, 8, 9, 10, 11, 12},
	}
	for _, run := range runs {
		d.Rows = append(d.Rows, []string{
			shortID(run.ID),
			run.SourceID,
			string(run.State),
			run.StartedAt.Local().Format(timeLayout),
			run.Duration().Round(time.Millisecond).String(),
			strconv.Itoa(run.RecordsSeen),
			strconv.Itoa(run.RecordsUpserted),
			strconv.Itoa(run.RecordsSkippedUnchanged),
			strconv.Itoa(run.RecordsFailedValidation + run.RecordsFailedPersistence),
			strconv.Itoa(run.RecordsSuperseded),
			strconv.Itoa(run.RecordsConflicted),
			strconv.Itoa(run.RecordsAbandoned),
			strconv.Itoa(run.MismatchesFound),
			run.Reason,
		})
	}
	return d
}

// Run renders one run as a property list with every counter.
func Run(run records.Run) Data {
	ended := ""
	if run.EndedAt != nil {
		ended = run.EndedAt.Local().Format(timeLayout)
	}
	rows := [][]string{
		{"ID", run.ID},
		{"Source", run.SourceID},
		{"Kind", string(run.Kind)},
		{"State", string(run.State)},
		{"Reason", run.Reason},
		{"Started", run.StartedAt.Local().Format(timeLayout)},
		{"Ended", ended},
		{"Duration", run.Duration().Round(time.Millisecond).String()},
		{"Drained", strconv.FormatBool(run.Drained)},
		{"Pages fetched", strconv.Itoa(run.PagesFetched)},
		{"Records seen", strconv.Itoa(run.RecordsSeen)},
		{"Inserted", strconv.Itoa(run.RecordsInserted)},
		{"Updated", strconv.Itoa(run.RecordsUpdated)},
		{"Skipped unchanged", strconv.Itoa(run.RecordsSkippedUnchanged)},
		{"Failed validation", strconv.Itoa(run.RecordsFailedValidation)},
		{"Superseded", strconv.Itoa(run.RecordsSuperseded)},
		{"Failed persistence", strconv.Itoa(run.RecordsFailedPersistence)},
		{"Conflicted", strconv.Itoa(run.RecordsConflicted)},
		{"Abandoned", strconv.Itoa(run.RecordsAbandoned)},
		{"Mismatches", strconv.Itoa(run.MismatchesFound)},
	}
	return Data{Title: "Run", Headers: []string{"Property", "Value"}, Rows: rows}
}

// Mismatches renders raw mismatch entries.
func Mismatches(mismatches []reconcile.Mismatch) Data {
	d := Data{
		Title:   "Mismatches",
		Headers: []string{"Observed at", "Kind", "Key", "Field", "Observed", "Suggestion", "Confidence", "Run"},
	}
	for _, m := range mismatches {
		d.Rows = append(d.Rows, []string{
			m.ObservedAt.Local().Format(timeLayout),
			string(m.Kind),
			m.NaturalKey,
			m.Field,
			m.Observed,
			m.Suggestion(),
			string(m.Confidence),
			shortID(m.RunID),
		})
	}
	return d
}

// Drift renders the grouped drift summary, one line per observed value.
func Drift(s report.Summary) Data {
	d := Data{
		Title:        "Classification drift",
		Headers:      []string{"Field", "Observed", "Count", "Suggestion", "Confidence", "Last seen", "Example keys"},
		RightAligned: []int{2},
	}
	for _, f := range s.Fields {
		for _, v := range f.Values {
			d.Rows = append(d.Rows, []string{
				f.Name,
				v.Observed,
				strconv.Itoa(v.Count),
				v.Suggestion,
				string(v.Confidence),
				v.LastSeen.Local().Format(time.DateOnly),
				strings.Join(v.Keys, ", "),
			})
		}
	}
	return d
}

// Taxonomy renders the codes of the given domains, or of every domain.
func Taxonomy(t *taxonomy.Table, domains ...taxonomy.Domain) Data {
	if len(domains) == 0 {
		domains = taxonomy.Domains()
	}
	d := Data{Title: "Taxonomy", Headers: []string{"Domain", "Code", "Description"}}
	for _, domain := range domains {
		for _, e := range t.Entries(domain) {
			d.Rows = append(d.Rows, []string{string(domain), e.Code, e.Description})
		}
	}
	return d
}

// Mappings renders the field mapping of one record kind.
func Mappings(kt *fieldmap.KindTable) Data {
	d := Data{
		Title:   "Field mapping: " + string(kt.Kind),
		Headers: []string{"External", "Aliases", "Canonical", "Type", "Required", "Domain"},
	}
	for _, m := range kt.Fields {
		canonical := m.Canonical
		if canonical == kt.NaturalKey {
			canonical += " (key)"
		}
		required := ""
		if m.Required {
			required = "yes"
		}
		d.Rows = append(d.Rows, []string{
			m.External,
			strings.Join(m.Aliases, ", "),
			canonical,
			string(m.Type),
			required,
			string(m.Domain),
		})
	}
	return d
}

// shortID keeps the first block of a UUID, which is enough to tell runs
// apart on screen.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
