package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/report"
)

func sampleRuns() []records.Run {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	run := records.Run{
		ID:        "3f2a9c1e-1111-2222-3333-444455556666",
		SourceID:  "announcements",
		Kind:      records.KindAnnouncement,
		State:     records.StateCompleted,
		StartedAt: start,
		EndedAt:   &end,
	}
	run.RecordsSeen = 10
	run.RecordsUpserted = 7
	run.RecordsFailedValidation = 2
	run.RecordsFailedPersistence = 1
	return []records.Run{run}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"table", "JSON", "yaml", "markdown", ""} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseFormat("wide")
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("YAML"))
	assert.Contains(t, []Format{FormatTable, FormatJSON}, DetectFormat(""))
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, Runs(sampleRuns())))

	out := buf.String()
	assert.Contains(t, out, "3f2a9c1e")
	assert.NotContains(t, out, "444455556666")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, strings.ToUpper(out), "UPSERTED")
}

func TestTableFormatterFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, buf.String())
}

func TestRunProperties(t *testing.T) {
	d := Run(sampleRuns()[0])
	props := make(map[string]string, len(d.Rows))
	for _, row := range d.Rows {
		props[row[0]] = row[1]
	}
	assert.Equal(t, "completed", props["State"])
	assert.Equal(t, "2", props["Failed validation"])
	assert.Equal(t, "1", props["Failed persistence"])
	assert.Equal(t, "1m30s", props["Duration"])
}

func TestRunsCombinesFailures(t *testing.T) {
	d := Runs(sampleRuns())
	require.Len(t, d.Rows, 1)
	assert.Equal(t, "3", d.Rows[0][8])
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatYAML).Format(&buf, sampleRuns()))
	assert.Contains(t, buf.String(), "source_id: announcements")
	assert.Contains(t, buf.String(), "records_seen: 10")
}

func TestMarkdownFormatter(t *testing.T) {
	code := "rnd"
	summary := report.Summarize([]reconcile.Mismatch{{
		NaturalKey:  "174002",
		Kind:        records.KindAnnouncement,
		Field:       "business_category",
		Observed:    "기술개발(R&D)",
		NearestCode: &code,
		Confidence:  reconcile.ConfidenceHigh,
		ObservedAt:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}})

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatMarkdown).Format(&buf, summary))
	assert.Contains(t, buf.String(), "# Classification drift")

	buf.Reset()
	require.NoError(t, NewFormatter(FormatMarkdown).Format(&buf, Drift(summary)))
	assert.Contains(t, buf.String(), "## Classification drift")
	assert.Contains(t, buf.String(), "business_category")

	buf.Reset()
	require.NoError(t, NewFormatter(FormatMarkdown).Format(&buf, Runs(nil)))
	assert.Contains(t, buf.String(), "Nothing to show.")

	assert.Error(t, NewFormatter(FormatMarkdown).Format(&buf, 42))
}
