package ingest

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/pkg/records"
)

func TestMetricsRunFinished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)
	run := records.Run{
		ID:        "r1",
		SourceID:  "announcements",
		State:     records.StateCompleted,
		StartedAt: start,
		EndedAt:   &end,
		Stats: records.Stats{
			PagesFetched:            2,
			RecordsSeen:             5,
			RecordsUpserted:         3,
			RecordsInserted:         3,
			RecordsFailedValidation: 1,
			RecordsSuperseded:       1,
		},
	}

	m.runStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	m.runFinished(run)
	m.mismatch("announcements", "region")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("announcements", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pages.WithLabelValues("announcements")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.records.WithLabelValues("announcements", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("announcements", "failed_validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mismatches.WithLabelValues("announcements", "region")))

	// zero outcomes are not emitted
	n, err := testutil.GatherAndCount(reg, "kstartup_records_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
