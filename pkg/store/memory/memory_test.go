package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/store"
	"github.com/agentstation/kstartup/pkg/store/memory"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func doc(key, title string, fetched time.Time) records.Document {
	return records.Document{
		Kind:            records.KindAnnouncement,
		NaturalKey:      key,
		Fields:          map[string]any{"title": title},
		ContentHash:     "h-" + title,
		SourceFetchedAt: fetched,
	}
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, found, err := s.GetByKey(ctx, records.KindAnnouncement, "1")
	require.NoError(t, err)
	assert.False(t, found)

	out, err := s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", "a", base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeSuccess, out)

	got, found, err := s.GetByKey(ctx, records.KindAnnouncement, "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", got.Fields["title"])

	// same key under another kind is a different document
	_, found, _ = s.GetByKey(ctx, records.KindBusiness, "1")
	assert.False(t, found)
}

func TestUpsertConflictOnOlderFetch(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", "new", base.Add(time.Hour)))
	require.NoError(t, err)

	out, err := s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", "old", base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeConflict, out)

	got, _, _ := s.GetByKey(ctx, records.KindAnnouncement, "1")
	assert.Equal(t, "new", got.Fields["title"])

	// equal timestamps: last write wins
	out, err = s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", "same-time", base.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeSuccess, out)
}

func TestConcurrentUpsertsSameKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", fmt.Sprint(i), base.Add(time.Duration(i)*time.Second)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, _, _ := s.GetByKey(ctx, records.KindAnnouncement, "1")
	assert.Equal(t, "49", got.Fields["title"])
	assert.Equal(t, 1, s.Len())
}

func TestUpsertBatch(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, _ = s.UpsertByKey(ctx, records.KindAnnouncement, "2", doc("2", "kept", base.Add(time.Hour)))

	outs, err := s.UpsertBatch(ctx, []records.Document{doc("1", "a", base), doc("2", "stale", base)})
	require.NoError(t, err)
	assert.Equal(t, []store.Outcome{store.OutcomeSuccess, store.OutcomeConflict}, outs)
	assert.Len(t, s.Documents(records.KindAnnouncement), 2)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.UpsertBatch(canceled, []records.Document{doc("3", "x", base)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMismatches(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	code := "rnd"
	require.NoError(t, s.AppendMismatches(ctx, []reconcile.Mismatch{
		{NaturalKey: "1", Kind: records.KindAnnouncement, Field: "business_category", Observed: "기술개발(R&D)", NearestCode: &code, Confidence: reconcile.ConfidenceHigh, RunID: "r1", ObservedAt: base},
		{NaturalKey: "2", Kind: records.KindAnnouncement, Field: "region", Observed: "해외(미국)", Confidence: reconcile.ConfidenceNone, RunID: "r1", ObservedAt: base},
		{NaturalKey: "b", Kind: records.KindBusiness, Field: "business_category", Observed: "cmrczn_tab1", Confidence: reconcile.ConfidenceNone, RunID: "r2", ObservedAt: base.Add(time.Hour)},
	}))

	all, err := s.Mismatches(ctx, store.MismatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].NaturalKey, "newest first")

	byField, _ := s.Mismatches(ctx, store.MismatchFilter{Field: "business_category"})
	assert.Len(t, byField, 2)

	byRun, _ := s.Mismatches(ctx, store.MismatchFilter{RunID: "r1", Limit: 1})
	require.Len(t, byRun, 1)
	assert.Equal(t, "2", byRun[0].NaturalKey)

	since, _ := s.Mismatches(ctx, store.MismatchFilter{Since: base.Add(time.Minute)})
	assert.Len(t, since, 1)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	run := records.Run{ID: "r1", SourceID: "announcements", State: records.StateFetching, StartedAt: base}
	require.NoError(t, s.SaveRun(ctx, run))
	run.State = records.StateCompleted
	run.RecordsSeen = 3
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveRun(ctx, records.Run{ID: "r2", SourceID: "business", State: records.StateFailed, StartedAt: base}))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, got.State)
	assert.Equal(t, 3, got.RecordsSeen)

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	list, _ := s.ListRuns(ctx, "", 0)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].ID)

	list, _ = s.ListRuns(ctx, "announcements", 10)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)
}
