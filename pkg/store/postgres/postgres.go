// Package postgres is a Store backed by PostgreSQL through a pgx pool.
// Documents live in a JSONB column keyed by (kind, natural_key).
package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/reconcile"
	"github.com/agentstation/kstartup/pkg/store"
	"github.com/agentstation/kstartup/pkg/taxonomy"
)

var (
	_ store.Store         = (*Store)(nil)
	_ store.BatchUpserter = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS kstartup_records (
	kind              TEXT NOT NULL,
	natural_key       TEXT NOT NULL,
	doc               JSONB NOT NULL,
	content_hash      TEXT NOT NULL,
	source_fetched_at TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, natural_key)
);
CREATE TABLE IF NOT EXISTS kstartup_mismatches (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL,
	natural_key  TEXT NOT NULL,
	field        TEXT NOT NULL,
	domain       TEXT NOT NULL,
	observed     TEXT NOT NULL,
	nearest_code TEXT,
	confidence   TEXT NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS kstartup_mismatches_field ON kstartup_mismatches (field);
CREATE TABLE IF NOT EXISTS kstartup_runs (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL,
	state      TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);`

// The WHERE clause keeps a row fetched later than the incoming one; no row
// comes back in that case.
const upsertRecord = `INSERT INTO kstartup_records (kind, natural_key, doc, content_hash, source_fetched_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (kind, natural_key) DO UPDATE SET
	doc = EXCLUDED.doc,
	content_hash = EXCLUDED.content_hash,
	source_fetched_at = EXCLUDED.source_fetched_at,
	updated_at = now()
WHERE kstartup_records.source_fetched_at <= EXCLUDED.source_fetched_at
RETURNING 1`

// Config configures the connection pool.
type Config struct {
	DSN      string
	MaxConns int
	// SimpleProtocol disables prepared statements, for use behind PgBouncer
	// in transaction mode.
	SimpleProtocol bool
}

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.NewConfigError("store.dsn", "invalid postgres DSN", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.SimpleProtocol {
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.WrapResource("connect", "postgres store", "", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapResource("ping", "postgres store", "", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.WrapResource("migrate", "postgres store", "", err)
	}
	return nil
}

// GetByKey implements store.Gateway.
func (s *Store) GetByKey(ctx context.Context, kind records.Kind, naturalKey string) (records.Document, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM kstartup_records WHERE kind = $1 AND natural_key = $2`,
		string(kind), naturalKey).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return records.Document{}, false, nil
	}
	if err != nil {
		return records.Document{}, false, errors.WrapResource("get", "record", naturalKey, err)
	}
	var doc records.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return records.Document{}, false, errors.WrapParse("json", naturalKey, err)
	}
	return doc, true, nil
}

// UpsertByKey implements store.Gateway.
func (s *Store) UpsertByKey(ctx context.Context, kind records.Kind, naturalKey string, doc records.Document) (store.Outcome, error) {
	doc.Kind, doc.NaturalKey = kind, naturalKey
	args, err := upsertArgs(doc)
	if err != nil {
		return "", err
	}
	return scanOutcome(s.pool.QueryRow(ctx, upsertRecord, args...), naturalKey)
}

// UpsertBatch implements store.BatchUpserter with one pgx batch.
func (s *Store) UpsertBatch(ctx context.Context, docs []records.Document) ([]store.Outcome, error) {
	b := &pgx.Batch{}
	for _, doc := range docs {
		args, err := upsertArgs(doc)
		if err != nil {
			return nil, err
		}
		b.Queue(upsertRecord, args...)
	}

	br := s.pool.SendBatch(ctx, b)
	out := make([]store.Outcome, len(docs))
	for i, doc := range docs {
		o, err := scanOutcome(br.QueryRow(), doc.NaturalKey)
		if err != nil {
			_ = br.Close()
			return nil, err
		}
		out[i] = o
	}
	if err := br.Close(); err != nil {
		return nil, errors.WrapResource("upsert", "record batch", "", err)
	}
	return out, nil
}

func upsertArgs(doc records.Document) ([]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapParse("json", doc.NaturalKey, err)
	}
	return []any{string(doc.Kind), doc.NaturalKey, string(raw), doc.ContentHash, doc.SourceFetchedAt}, nil
}

func scanOutcome(row pgx.Row, naturalKey string) (store.Outcome, error) {
	var one int
	err := row.Scan(&one)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return store.OutcomeConflict, nil
	}
	if err != nil {
		return "", errors.WrapResource("upsert", "record", naturalKey, err)
	}
	return store.OutcomeSuccess, nil
}

// AppendMismatches implements store.MismatchSink.
func (s *Store) AppendMismatches(ctx context.Context, mismatches []reconcile.Mismatch) error {
	if len(mismatches) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, m := range mismatches {
		b.Queue(`INSERT INTO kstartup_mismatches
			(run_id, kind, natural_key, field, domain, observed, nearest_code, confidence, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.RunID, string(m.Kind), m.NaturalKey, m.Field, string(m.Domain), m.Observed,
			m.NearestCode, string(m.Confidence), m.ObservedAt)
	}
	br := s.pool.SendBatch(ctx, b)
	for range mismatches {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.WrapResource("append", "mismatch", "", err)
		}
	}
	if err := br.Close(); err != nil {
		return errors.WrapResource("append", "mismatches", "", err)
	}
	return nil
}

// Mismatches implements store.MismatchSink. Newest entries come first.
func (s *Store) Mismatches(ctx context.Context, filter store.MismatchFilter) ([]reconcile.Mismatch, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Field != "" {
		add("field = $%d", filter.Field)
	}
	if filter.RunID != "" {
		add("run_id = $%d", filter.RunID)
	}
	if !filter.Since.IsZero() {
		add("observed_at >= $%d", filter.Since)
	}

	query := `SELECT run_id, kind, natural_key, field, domain, observed, nearest_code, confidence, observed_at FROM kstartup_mismatches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapResource("list", "mismatches", "", err)
	}
	defer rows.Close()

	var out []reconcile.Mismatch
	for rows.Next() {
		var (
			m                        reconcile.Mismatch
			kind, domain, confidence string
			observedAt               time.Time
		)
		if err := rows.Scan(&m.RunID, &kind, &m.NaturalKey, &m.Field, &domain, &m.Observed, &m.NearestCode, &confidence, &observedAt); err != nil {
			return nil, errors.WrapResource("scan", "mismatch", "", err)
		}
		m.Kind = records.Kind(kind)
		m.Domain = taxonomy.Domain(domain)
		m.Confidence = reconcile.Confidence(confidence)
		m.ObservedAt = observedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveRun implements store.RunStore.
func (s *Store) SaveRun(ctx context.Context, run records.Run) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return errors.WrapParse("json", run.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO kstartup_runs (id, source_id, state, started_at, doc) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, doc = EXCLUDED.doc`,
		run.ID, run.SourceID, string(run.State), run.StartedAt, string(raw))
	if err != nil {
		return errors.WrapResource("save", "run", run.ID, err)
	}
	return nil
}

// GetRun implements store.RunStore.
func (s *Store) GetRun(ctx context.Context, id string) (records.Run, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM kstartup_runs WHERE id = $1`, id).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return records.Run{}, errors.NewNotFoundError("run", id)
	}
	if err != nil {
		return records.Run{}, errors.WrapResource("get", "run", id, err)
	}
	var run records.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return records.Run{}, errors.WrapParse("json", id, err)
	}
	return run, nil
}

// ListRuns implements store.RunStore. Newest runs come first.
func (s *Store) ListRuns(ctx context.Context, sourceID string, limit int) ([]records.Run, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM kstartup_runs WHERE ($1 = '' OR source_id = $1) ORDER BY started_at DESC LIMIT $2`,
		sourceID, lim)
	if err != nil {
		return nil, errors.WrapResource("list", "runs", "", err)
	}
	defer rows.Close()

	var out []records.Run
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.WrapResource("scan", "run", "", err)
		}
		var run records.Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, errors.WrapParse("json", "run", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
