package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/store"
	"github.com/agentstation/kstartup/pkg/store/sqlite"
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

func openMemory(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, found, err := s.GetByKey(ctx, records.KindAnnouncement, "1")
	require.NoError(t, err)
	assert.False(t, found)

	out, err := s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", "창업도약패키지", base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeSuccess, out)

	got, found, err := s.GetByKey(ctx, records.KindAnnouncement, "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "창업도약패키지", got.Fields["title"])
	assert.Equal(t, "h-창업도약패키지", got.ContentHash)
	assert.True(t, base.Equal(got.SourceFetchedAt))
}

func TestOlderFetchConflicts(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, err := s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", "new", base.Add(time.Hour)))
	require.NoError(t, err)

	out, err := s.UpsertByKey(ctx, records.KindAnnouncement, "1", doc("1", "old", base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeConflict, out)

	got, _, _ := s.GetByKey(ctx, records.KindAnnouncement, "1")
	assert.Equal(t, "new", got.Fields["title"])

	outs, err := s.UpsertBatch(ctx, []records.Document{
		doc("1", "newest", base.Add(2*time.Hour)),
		doc("2", "b", base),
	})
	require.NoError(t, err)
	assert.Equal(t, []store.Outcome{store.OutcomeSuccess, store.OutcomeSuccess}, outs)

	got, _, _ = s.GetByKey(ctx, records.KindAnnouncement, "1")
	assert.Equal(t, "newest", got.Fields["title"])
}

func TestMismatchesAndRuns(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	code := "rnd"
	require.NoError(t, s.AppendMismatches(ctx, []reconcile.Mismatch{
		{NaturalKey: "1", Kind: records.KindAnnouncement, Field: "business_category", Domain: "business_category", Observed: "기술개발(R&D)", NearestCode: &code, Confidence: reconcile.ConfidenceHigh, RunID: "r1", ObservedAt: base},
		{NaturalKey: "2", Kind: records.KindAnnouncement, Field: "region", Domain: "region", Observed: "해외(미국)", Confidence: reconcile.ConfidenceNone, RunID: "r1", ObservedAt: base.Add(time.Minute)},
	}))

	all, err := s.Mismatches(ctx, store.MismatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2", all[0].NaturalKey)
	assert.Nil(t, all[0].NearestCode)
	require.NotNil(t, all[1].NearestCode)
	assert.Equal(t, "rnd", *all[1].NearestCode)

	filtered, err := s.Mismatches(ctx, store.MismatchFilter{Field: "business_category", Limit: 5})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, reconcile.ConfidenceHigh, filtered[0].Confidence)

	run := records.Run{ID: "r1", SourceID: "announcements", State: records.StateFetching, StartedAt: base}
	require.NoError(t, s.SaveRun(ctx, run))
	run.State = records.StateCompleted
	run.RecordsSeen = 3
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveRun(ctx, records.Run{ID: "r2", SourceID: "business", State: records.StateFailed, StartedAt: base.Add(time.Hour)}))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, got.State)
	assert.Equal(t, 3, got.RecordsSeen)

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	list, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].ID)

	list, err = s.ListRuns(ctx, "announcements", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)
}

func TestUpsertByKeyReportsConflictFromRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO records").
		WithArgs("announcement", "1", sqlmock.AnyArg(), "h-a", base.UnixNano(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := sqlite.New(db)
	out, err := s.UpsertByKey(context.Background(), records.KindAnnouncement, "1", doc("1", "a", base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeConflict, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByKeyMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT doc FROM records WHERE").
		WithArgs("business", "42").
		WillReturnError(sql.ErrNoRows)

	s := sqlite.New(db)
	_, found, err := s.GetByKey(context.Background(), records.KindBusiness, "42")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO records")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	s := sqlite.New(db)
	_, err = s.UpsertBatch(context.Background(), []records.Document{doc("1", "a", base), doc("2", "b", base)})
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
