package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/pkg/reconcile"
)

func ptr(s string) *string { return &s }

func TestSummarize(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Summarize([]reconcile.Mismatch{
		{NaturalKey: "1", Field: "region", Observed: "해외", Confidence: reconcile.ConfidenceNone, ObservedAt: base},
		{NaturalKey: "2", Field: "business_category", Observed: "기술개발(R&D)", NearestCode: ptr("rnd"), Confidence: reconcile.ConfidenceHigh, ObservedAt: base},
		{NaturalKey: "3", Field: "business_category", Observed: "기술개발(R&D)", NearestCode: ptr("rnd"), Confidence: reconcile.ConfidenceHigh, ObservedAt: base.Add(time.Hour)},
		{NaturalKey: "3", Field: "business_category", Observed: "판로", NearestCode: ptr("mrkt"), Confidence: reconcile.ConfidenceMedium, ObservedAt: base},
	})

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.Suggested)
	assert.Equal(t, 1, s.Unsuggested)
	require.Len(t, s.Fields, 2)

	biz := s.Fields[0]
	assert.Equal(t, "business_category", biz.Name)
	assert.Equal(t, 3, biz.Total)
	require.Len(t, biz.Values, 2)
	assert.Equal(t, "기술개발(R&D)", biz.Values[0].Observed)
	assert.Equal(t, 2, biz.Values[0].Count)
	assert.Equal(t, []string{"2", "3"}, biz.Values[0].Keys)
	assert.Equal(t, base.Add(time.Hour), biz.Values[0].LastSeen)
	assert.Equal(t, "rnd", biz.Values[0].Suggestion)

	assert.Equal(t, "region", s.Fields[1].Name)
	assert.Equal(t, "none", s.Fields[1].Values[0].Suggestion)
}

func TestWriteMarkdown(t *testing.T) {
	var b strings.Builder
	s := Summarize([]reconcile.Mismatch{
		{NaturalKey: "1", Field: "business_category", Observed: "기술개발(R&D)", NearestCode: ptr("rnd"), Confidence: reconcile.ConfidenceHigh},
	})
	require.NoError(t, WriteMarkdown(&b, s))

	out := b.String()
	assert.Contains(t, out, "# Classification drift")
	assert.Contains(t, out, "## business_category (1)")
	assert.Contains(t, out, "기술개발(R&D)")
	assert.Contains(t, out, "`rnd`")
}

func TestWriteMarkdownEmpty(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteMarkdown(&b, Summarize(nil)))
	assert.Contains(t, b.String(), "No mismatches recorded.")
}
