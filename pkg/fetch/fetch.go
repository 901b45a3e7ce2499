// Package fetch pulls paginated listings from the K-Startup open data API.
//
// A Fetch returns a lazy Iterator: pages are requested only as records are
// consumed, starting at page 1 on every run. The iterator stops when the
// upstream reports an empty page, when the declared total has been yielded,
// or when the declared page count is exhausted. Reaching the configured page
// bound while the source still claims more data is an error.
package fetch

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/agentstation/kstartup/internal/transport"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/logging"
	"github.com/agentstation/kstartup/pkg/records"
)

// Getter is the transport the fetcher needs.
type Getter interface {
	Get(ctx context.Context, rawURL string, query url.Values, creds transport.Credentials) (*transport.Response, error)
}

// Fetcher creates iterators over configured sources.
type Fetcher struct {
	client Getter
	now    func() time.Time
}

// New creates a fetcher on the shared client.
func New(client Getter) *Fetcher {
	return &Fetcher{client: client, now: time.Now}
}

// Fetch starts iterating over cfg. Configuration problems surface through
// the iterator's Err on the first call to Next.
func (f *Fetcher) Fetch(_ context.Context, cfg SourceConfig) *Iterator {
	cfg = cfg.WithDefaults()
	it := &Iterator{
		f:        f,
		cfg:      cfg,
		creds:    cfg.credentials(),
		endpoint: cfg.Endpoint(),
	}
	if err := cfg.Validate(); err != nil {
		it.err = err
		return it
	}
	if cfg.RunBudget > 0 {
		it.deadline = f.now().Add(cfg.RunBudget)
	}
	return it
}

// Iterator walks the records of one source. It is not safe for concurrent
// use and cannot be restarted.
type Iterator struct {
	f        *Fetcher
	cfg      SourceConfig
	creds    transport.Credentials
	endpoint string
	deadline time.Time

	buf       []records.RawRecord
	idx       int
	cur       records.RawRecord
	fetchedAt time.Time

	pages      int
	yielded    int
	last       *envelope
	total      int
	totalKnown bool

	done    bool
	drained bool
	closed  bool
	err     error
}

// Next advances to the next record, fetching a page when the buffer is
// empty. It returns false at the end of the stream or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	for {
		if it.err != nil || it.closed {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		if it.idx < len(it.buf) {
			if it.totalKnown && it.yielded >= it.total {
				// the source served more than it declared
				it.buf, it.done = nil, true
				return false
			}
			it.cur = it.buf[it.idx]
			it.idx++
			it.yielded++
			return true
		}
		if it.done {
			return false
		}
		if !it.more() {
			it.done = true
			return false
		}
		if it.pages >= it.cfg.MaxPages {
			it.err = &errors.PageBoundError{
				Source:   it.cfg.ID,
				MaxPages: it.cfg.MaxPages,
				Total:    it.total,
				Yielded:  it.yielded,
			}
			return false
		}
		if !it.deadline.IsZero() && !it.f.now().Before(it.deadline) {
			logging.FromContext(ctx).Warn().
				Str("source", it.cfg.ID).
				Int("pages", it.pages).
				Int("yielded", it.yielded).
				Msg("Run budget spent, draining")
			it.drained, it.done = true, true
			return false
		}
		if err := it.fetchPage(ctx); err != nil {
			it.err = err
			return false
		}
	}
}

// more reports whether another page should be requested.
func (it *Iterator) more() bool {
	if it.last == nil {
		return true
	}
	if it.last.current <= 0 || len(it.last.items) == 0 {
		return false
	}
	if !it.totalKnown {
		return true
	}
	if it.yielded >= it.total {
		return false
	}
	perPage := it.last.perPage
	if perPage <= 0 {
		perPage = it.cfg.PerPage
	}
	return it.pages*perPage < it.total
}

func (it *Iterator) fetchPage(ctx context.Context) error {
	pageNo := it.pages + 1
	query := url.Values{}
	query.Set("page", strconv.Itoa(pageNo))
	query.Set("perPage", strconv.Itoa(it.cfg.PerPage))
	query.Set("returnType", "json")
	for k, v := range it.cfg.Filters {
		query.Set(k, v)
	}

	resp, err := it.f.client.Get(ctx, it.endpoint, query, it.creds)
	if err != nil {
		return err
	}
	env, err := decodeEnvelope(it.cfg.ID, pageNo, resp)
	if err != nil {
		return err
	}

	it.pages = pageNo
	it.last = env
	if env.totalKnown {
		it.total, it.totalKnown = env.total, true
	}
	it.buf, it.idx = env.items, 0
	it.fetchedAt = it.f.now()

	logging.FromContext(ctx).Debug().
		Str("source", it.cfg.ID).
		Int("page", pageNo).
		Int("current_count", env.current).
		Int("total_count", env.total).
		Int("items", len(env.items)).
		Msg("Fetched page")
	return nil
}

// Record returns the current record.
func (it *Iterator) Record() records.RawRecord { return it.cur }

// FetchedAt is when the page holding the current record was received.
func (it *Iterator) FetchedAt() time.Time { return it.fetchedAt }

// Err returns the error that ended iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Pages is the number of pages fetched so far.
func (it *Iterator) Pages() int { return it.pages }

// Yielded is the number of records handed out so far.
func (it *Iterator) Yielded() int { return it.yielded }

// Drained reports whether the run budget cut the stream short.
func (it *Iterator) Drained() bool { return it.drained }

// Source returns the effective configuration.
func (it *Iterator) Source() SourceConfig { return it.cfg }

// Close stops the iterator; further calls to Next return false.
func (it *Iterator) Close() {
	it.closed = true
	it.buf = nil
}
