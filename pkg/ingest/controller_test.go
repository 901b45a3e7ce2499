package ingest_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/fetch"
	"github.com/agentstation/kstartup/pkg/fieldmap"
	"github.com/agentstation/kstartup/pkg/ingest"
	"github.com/agentstation/kstartup/pkg/logging"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/store"
	"github.com/agentstation/kstartup/pkg/store/memory"
	"github.com/agentstation/kstartup/pkg/taxonomy"
)

// upstream serves a fixed item list in pages. When gate is set every
// request waits for it to close.
type upstream struct {
	mu     sync.Mutex
	items  []map[string]any
	status int
	gate   chan struct{}
	hits   atomic.Int32
}

func (u *upstream) set(items ...map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.items = items
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.hits.Add(1)
	if u.gate != nil {
		select {
		case <-u.gate:
		case <-r.Context().Done():
			return
		}
	}
	if u.status != 0 {
		w.WriteHeader(u.status)
		return
	}

	u.mu.Lock()
	items := u.items
	u.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	start := min((page-1)*perPage, len(items))
	end := min(start+perPage, len(items))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"currentCount": end - start,
		"totalCount":   len(items),
		"page":         page,
		"perPage":      perPage,
		"data":         items[start:end],
	})
}

func ann(id, title string) map[string]any {
	return map[string]any{
		"pbanc_sn":           id,
		"biz_pbanc_nm":       title,
		"pbanc_rcpt_bgng_dt": "20250301",
		"supt_biz_clsfc":     "사업화",
	}
}

type fixture struct {
	up    *upstream
	srv   *httptest.Server
	store *memory.Store
	ctrl  *ingest.Controller
}

func newFixture(t *testing.T, st store.Store, opts ...ingest.Option) *fixture {
	t.Helper()
	return newPagedFixture(t, st, 100, opts...)
}

// newPagedFixture serves the upstream perPage items at a time.
func newPagedFixture(t *testing.T, st store.Store, perPage int, opts ...ingest.Option) *fixture {
	t.Helper()
	logging.DisableLoggingForTest(t)

	up := &upstream{}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	fields, err := fieldmap.Default()
	require.NoError(t, err)
	tax, err := taxonomy.Default()
	require.NoError(t, err)

	mem, _ := st.(*memory.Store)
	if st == nil {
		mem = memory.New()
		st = mem
	}

	src := fetch.SourceConfig{
		ID:      "announcements",
		Kind:    records.KindAnnouncement,
		BaseURL: srv.URL,
		Path:    "/getAnnouncementInformation01",
		PerPage: perPage,
		Auth:    transport.AuthNone,
	}
	f := fetch.New(transport.New(transport.Config{MaxRetries: 0, Timeout: 5 * time.Second}))
	opts = append([]ingest.Option{ingest.WithBatchRetries(1, time.Millisecond)}, opts...)
	ctrl, err := ingest.New(st, f, fields, reconcile.New(tax, fields), []fetch.SourceConfig{src}, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return &fixture{up: up, srv: srv, store: mem, ctrl: ctrl}
}

func assertAccounted(t *testing.T, run records.Run) {
	t.Helper()
	assert.Equal(t, run.RecordsSeen, run.Accounted(), "every seen record lands in one outcome: %+v", run.Stats)
}

func TestRunEndToEnd(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.set(ann("1", "창업성장기술개발"), map[string]any{"pbanc_sn": "2"}, ann("3", "예비창업패키지"))

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)

	assert.Equal(t, records.StateCompleted, run.State)
	assert.Equal(t, 1, run.PagesFetched)
	assert.Equal(t, 3, run.RecordsSeen)
	assert.Equal(t, 1, run.RecordsFailedValidation)
	assert.Equal(t, 2, run.RecordsUpserted)
	assert.Equal(t, 2, run.RecordsInserted)
	assert.NotNil(t, run.EndedAt)
	assertAccounted(t, run)

	doc, found, err := fx.store.GetByKey(context.Background(), records.KindAnnouncement, "3")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "예비창업패키지", doc.Fields["title"])

	stored, err := fx.ctrl.Lookup(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, stored.State)
}

func TestRunIsIdempotent(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.set(ann("1", "a"), ann("2", "b"))

	first, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, 2, first.RecordsInserted)

	second, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, second.State)
	assert.Equal(t, 0, second.RecordsUpserted)
	assert.Equal(t, 2, second.RecordsSkippedUnchanged)
	assertAccounted(t, second)

	fx.up.set(ann("1", "a"), ann("2", "b (수정)"))
	third, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, 1, third.RecordsUpdated)
	assert.Equal(t, 1, third.RecordsSkippedUnchanged)
	assert.Equal(t, 2, fx.store.Len())
}

func TestRunCollapsesDuplicates(t *testing.T) {
	fx := newFixture(t, nil, ingest.WithWorkers(4))
	fx.up.set(ann("1", "old"), ann("2", "b"), ann("1", "new"))

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, 1, run.RecordsSuperseded)
	assert.Equal(t, 2, run.RecordsUpserted)
	assertAccounted(t, run)

	doc, _, _ := fx.store.GetByKey(context.Background(), records.KindAnnouncement, "1")
	assert.Equal(t, "new", doc.Fields["title"])
}

func TestRunCollapsesDuplicatesAcrossPages(t *testing.T) {
	fx := newPagedFixture(t, nil, 3, ingest.WithWorkers(4))
	fx.up.set(ann("1", "old"), ann("2", "b"), ann("3", "c"), ann("4", "d"), ann("1", "new"))

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, run.State)
	assert.Equal(t, 2, run.PagesFetched)
	assert.Equal(t, 5, run.RecordsSeen)
	assert.Equal(t, 1, run.RecordsSuperseded)
	assert.Equal(t, 4, run.RecordsUpserted)
	assertAccounted(t, run)

	doc, _, _ := fx.store.GetByKey(context.Background(), records.KindAnnouncement, "1")
	assert.Equal(t, "new", doc.Fields["title"], "the occurrence on the later page wins")
}

func TestRunIsolatesValidationFailures(t *testing.T) {
	fx := newFixture(t, nil, ingest.WithBatchSize(4))
	items := make([]map[string]any, 0, 10)
	for i := 1; i <= 10; i++ {
		item := ann(strconv.Itoa(i), fmt.Sprintf("공고 %d", i))
		if i == 5 {
			item["pbanc_rcpt_bgng_dt"] = "2025/03/01"
		}
		items = append(items, item)
	}
	fx.up.set(items...)

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, run.State)
	assert.Equal(t, 1, run.RecordsFailedValidation)
	assert.Equal(t, 9, run.RecordsUpserted)
	assert.Equal(t, 9, fx.store.Len())
	assertAccounted(t, run)
}

func TestRunReportsMismatches(t *testing.T) {
	fx := newFixture(t, nil)
	item := ann("1", "a")
	item["supt_biz_clsfc"] = "기술개발(R&D)"
	fx.up.set(item, ann("2", "b"))

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, 1, run.MismatchesFound)
	assert.Equal(t, 2, run.RecordsUpserted, "drift never fails a record")

	found, err := fx.store.Mismatches(context.Background(), store.MismatchFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "business_category", found[0].Field)
	assert.Equal(t, "rnd", found[0].Suggestion())
	assert.Equal(t, reconcile.ConfidenceHigh, found[0].Confidence)
}

func TestRunFatalFetchError(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.status = http.StatusUnauthorized

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, records.StateFailed, run.State)
	assert.Contains(t, run.Reason, "401")
	assert.Equal(t, 0, fx.store.Len())
	assertAccounted(t, run)
}

func TestRunCountsConflicts(t *testing.T) {
	mem := memory.New()
	_, err := mem.UpsertByKey(context.Background(), records.KindAnnouncement, "1", records.Document{
		Kind:            records.KindAnnouncement,
		NaturalKey:      "1",
		Fields:          map[string]any{"title": "from the future"},
		ContentHash:     "other",
		SourceFetchedAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	fx := newFixture(t, mem)
	fx.up.set(ann("1", "a"), ann("2", "b"))

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, 1, run.RecordsConflicted)
	assert.Equal(t, 1, run.RecordsUpserted)
	assertAccounted(t, run)
}

// flakyStore fails every batch write.
type flakyStore struct {
	*memory.Store
	calls atomic.Int32
}

func (s *flakyStore) UpsertBatch(context.Context, []records.Document) ([]store.Outcome, error) {
	s.calls.Add(1)
	return nil, stderrors.New("connection refused")
}

func TestRunCountsPersistenceFailures(t *testing.T) {
	st := &flakyStore{Store: memory.New()}
	fx := newFixture(t, st, ingest.WithBatchSize(1), ingest.WithBatchRetries(2, time.Millisecond))
	fx.up.set(ann("1", "a"), ann("2", "b"))

	run, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, run.State, "failed batches do not fail the run")
	assert.Equal(t, 2, run.RecordsFailedPersistence)
	assert.Equal(t, int32(6), st.calls.Load(), "two batches, three attempts each")
	assertAccounted(t, run)
}

// blockingStore holds the first batch write until release is closed.
type blockingStore struct {
	*memory.Store
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) UpsertBatch(ctx context.Context, docs []records.Document) ([]store.Outcome, error) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.Store.UpsertBatch(ctx, docs)
}

func TestCancelDuringBatchWrite(t *testing.T) {
	st := &blockingStore{Store: memory.New(), started: make(chan struct{}), release: make(chan struct{})}
	fx := newFixture(t, st, ingest.WithBatchSize(2))
	fx.up.set(ann("1", "a"), ann("2", "b"), ann("3", "c"), ann("4", "d"), ann("5", "e"))

	ctx := context.Background()
	res, err := fx.ctrl.Trigger(ctx, "announcements")
	require.NoError(t, err)

	select {
	case <-st.started:
	case <-time.After(5 * time.Second):
		t.Fatal("batch write never started")
	}
	require.True(t, fx.ctrl.Cancel("announcements"))
	close(st.release)
	require.NoError(t, fx.ctrl.Wait(ctx, "announcements"))

	run, err := fx.ctrl.Lookup(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateFailed, run.State)
	assert.Equal(t, "canceled", run.Reason)
	assert.Equal(t, 2, run.RecordsUpserted, "the batch in flight completes")
	assert.Equal(t, 3, run.RecordsAbandoned)
	assert.Equal(t, 2, st.Len())
	assertAccounted(t, run)
}

func TestTriggerIsSingleFlight(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.set(ann("1", "a"))
	fx.up.gate = make(chan struct{})

	ctx := context.Background()
	first, err := fx.ctrl.Trigger(ctx, "announcements")
	require.NoError(t, err)
	require.True(t, first.Accepted)

	require.Eventually(t, func() bool { return fx.up.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := fx.ctrl.Trigger(ctx, "announcements")
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Equal(t, first.Run.ID, second.Run.ID)

	_, err = fx.ctrl.Execute(ctx, "announcements")
	assert.ErrorIs(t, err, errors.ErrAlreadyRunning)

	active := fx.ctrl.Active()
	require.Len(t, active, 1)
	assert.Equal(t, records.StateFetching, active[0].State)

	close(fx.up.gate)
	require.NoError(t, fx.ctrl.Wait(ctx, "announcements"))

	run, err := fx.ctrl.Lookup(ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateCompleted, run.State)
	assert.Empty(t, fx.ctrl.Active())

	third, err := fx.ctrl.Trigger(ctx, "announcements")
	require.NoError(t, err)
	assert.True(t, third.Accepted)
	require.NoError(t, fx.ctrl.Wait(ctx, "announcements"))
}

func TestCancelRun(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.set(ann("1", "a"))
	fx.up.gate = make(chan struct{})

	ctx := context.Background()
	res, err := fx.ctrl.Trigger(ctx, "announcements")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fx.up.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, fx.ctrl.Cancel("announcements"))
	require.NoError(t, fx.ctrl.Wait(ctx, "announcements"))
	assert.False(t, fx.ctrl.Cancel("announcements"))

	run, err := fx.ctrl.Lookup(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateFailed, run.State)
	assert.Equal(t, "canceled", run.Reason)
	assertAccounted(t, run)
	close(fx.up.gate)
}

func TestShutdownStopsRuns(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.set(ann("1", "a"))
	fx.up.gate = make(chan struct{})
	defer close(fx.up.gate)

	ctx := context.Background()
	res, err := fx.ctrl.Trigger(ctx, "announcements")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fx.up.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, fx.ctrl.Shutdown(shutdownCtx))

	run, err := fx.store.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StateFailed, run.State)

	_, err = fx.ctrl.Trigger(ctx, "announcements")
	assert.True(t, errors.IsCanceled(err))
}

func TestTriggerUnknownSource(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.ctrl.Trigger(context.Background(), "press")
	assert.True(t, errors.IsNotFound(err))
}

func TestRunEvents(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.set(ann("1", "a"))

	var (
		mu  sync.Mutex
		got []string
	)
	fx.ctrl.OnEvent(func(e ingest.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(e.Type)+":"+string(e.Run.State))
	})

	_, err := fx.ctrl.Execute(context.Background(), "announcements")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"run.started:idle",
		"run.state:fetching",
		"run.state:processing",
		"run.state:persisting",
		"run.finished:completed",
	}, got)
}

func TestRunHistory(t *testing.T) {
	fx := newFixture(t, nil)
	fx.up.set(ann("1", "a"))

	for i := 0; i < 3; i++ {
		_, err := fx.ctrl.Execute(context.Background(), "announcements")
		require.NoError(t, err)
	}
	runs, err := fx.ctrl.Runs(context.Background(), "announcements", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestNewRejectsBadSources(t *testing.T) {
	fields, err := fieldmap.Default()
	require.NoError(t, err)
	tax, err := taxonomy.Default()
	require.NoError(t, err)
	rec := reconcile.New(tax, fields)
	f := fetch.New(transport.New(transport.Config{}))

	src := fetch.SourceConfig{ID: "a", Kind: records.KindAnnouncement, Auth: transport.AuthNone}
	_, err = ingest.New(memory.New(), f, fields, rec, []fetch.SourceConfig{src, src})
	assert.Error(t, err)

	_, err = ingest.New(memory.New(), f, fields, rec, []fetch.SourceConfig{{ID: "b", Kind: "press"}})
	assert.Error(t, err)

	_, err = ingest.New(memory.New(), f, fields, rec, nil, ingest.WithWorkers(0))
	assert.True(t, errors.IsValidationError(err))
}
