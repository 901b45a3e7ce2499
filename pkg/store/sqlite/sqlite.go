// Package sqlite is a Store backed by a local SQLite file. Documents are
// kept as JSON text keyed by (kind, natural_key); timestamps are stored as
// Unix nanoseconds so freshness comparisons happen in SQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentstation/kstartup/internal/utils/ptr"
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
CREATE TABLE IF NOT EXISTS records (
	kind              TEXT NOT NULL,
	natural_key       TEXT NOT NULL,
	doc               TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	source_fetched_at INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	PRIMARY KEY (kind, natural_key)
);
CREATE TABLE IF NOT EXISTS mismatches (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL,
	natural_key  TEXT NOT NULL,
	field        TEXT NOT NULL,
	domain       TEXT NOT NULL,
	observed     TEXT NOT NULL,
	nearest_code TEXT,
	confidence   TEXT NOT NULL,
	observed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS mismatches_field ON mismatches (field);
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL,
	state      TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	doc        TEXT NOT NULL
);`

const upsertRecord = `INSERT INTO records (kind, natural_key, doc, content_hash, source_fetched_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (kind, natural_key) DO UPDATE SET
	doc = excluded.doc,
	content_hash = excluded.content_hash,
	source_fetched_at = excluded.source_fetched_at,
	updated_at = excluded.updated_at
WHERE records.source_fetched_at <= excluded.source_fetched_at`

// Store implements store.Store on database/sql.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WrapResource("open", "sqlite store", path, err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.WrapResource("configure", "sqlite store", pragma, err)
		}
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database without migrating it.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.WrapResource("migrate", "sqlite store", "", err)
	}
	return nil
}

// GetByKey implements store.Gateway.
func (s *Store) GetByKey(ctx context.Context, kind records.Kind, naturalKey string) (records.Document, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE kind = ? AND natural_key = ?`, string(kind), naturalKey).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return records.Document{}, false, nil
	}
	if err != nil {
		return records.Document{}, false, errors.WrapResource("get", "record", naturalKey, err)
	}
	var doc records.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return records.Document{}, false, errors.WrapParse("json", naturalKey, err)
	}
	return doc, true, nil
}

// UpsertByKey implements store.Gateway.
func (s *Store) UpsertByKey(ctx context.Context, kind records.Kind, naturalKey string, doc records.Document) (store.Outcome, error) {
	doc.Kind, doc.NaturalKey = kind, naturalKey
	args, err := s.upsertArgs(doc)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, upsertRecord, args...)
	if err != nil {
		return "", errors.WrapResource("upsert", "record", naturalKey, err)
	}
	return outcome(res)
}

// UpsertBatch implements store.BatchUpserter in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, docs []records.Document) ([]store.Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapResource("begin", "record batch", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertRecord)
	if err != nil {
		return nil, errors.WrapResource("prepare", "record batch", "", err)
	}
	defer stmt.Close()

	out := make([]store.Outcome, len(docs))
	for i, doc := range docs {
		args, err := s.upsertArgs(doc)
		if err != nil {
			return nil, err
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, errors.WrapResource("upsert", "record", doc.NaturalKey, err)
		}
		if out[i], err = outcome(res); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapResource("commit", "record batch", "", err)
	}
	return out, nil
}

func (s *Store) upsertArgs(doc records.Document) ([]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapParse("json", doc.NaturalKey, err)
	}
	return []any{
		string(doc.Kind), doc.NaturalKey, string(raw), doc.ContentHash,
		doc.SourceFetchedAt.UnixNano(), s.now().UnixNano(),
	}, nil
}

func outcome(res sql.Result) (store.Outcome, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return "", errors.WrapResource("upsert", "record", "", err)
	}
	if n == 0 {
		return store.OutcomeConflict, nil
	}
	return store.OutcomeSuccess, nil
}

// AppendMismatches implements store.MismatchSink.
func (s *Store) AppendMismatches(ctx context.Context, mismatches []reconcile.Mismatch) error {
	if len(mismatches) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapResource("begin", "mismatches", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range mismatches {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO mismatches (run_id, kind, natural_key, field, domain, observed, nearest_code, confidence, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.RunID, string(m.Kind), m.NaturalKey, m.Field, string(m.Domain), m.Observed,
			m.NearestCode, string(m.Confidence), m.ObservedAt.UnixNano())
		if err != nil {
			return errors.WrapResource("append", "mismatch", m.NaturalKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapResource("commit", "mismatches", "", err)
	}
	return nil
}

// Mismatches implements store.MismatchSink. Newest entries come first.
func (s *Store) Mismatches(ctx context.Context, filter store.MismatchFilter) ([]reconcile.Mismatch, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where, args = append(where, "kind = ?"), append(args, string(filter.Kind))
	}
	if filter.Field != "" {
		where, args = append(where, "field = ?"), append(args, filter.Field)
	}
	if filter.RunID != "" {
		where, args = append(where, "run_id = ?"), append(args, filter.RunID)
	}
	if !filter.Since.IsZero() {
		where, args = append(where, "observed_at >= ?"), append(args, filter.Since.UnixNano())
	}

	query := `SELECT run_id, kind, natural_key, field, domain, observed, nearest_code, confidence, observed_at FROM mismatches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapResource("list", "mismatches", "", err)
	}
	defer rows.Close()

	var out []reconcile.Mismatch
	for rows.Next() {
		var (
			m          reconcile.Mismatch
			kind       string
			domain     string
			confidence string
			nearest    sql.NullString
			observedAt int64
		)
		if err := rows.Scan(&m.RunID, &kind, &m.NaturalKey, &m.Field, &domain, &m.Observed, &nearest, &confidence, &observedAt); err != nil {
			return nil, errors.WrapResource("scan", "mismatch", "", err)
		}
		m.Kind = records.Kind(kind)
		m.Domain = taxonomy.Domain(domain)
		m.Confidence = reconcile.Confidence(confidence)
		m.ObservedAt = time.Unix(0, observedAt).UTC()
		if nearest.Valid {
			m.NearestCode = ptr.String(nearest.String)
		}
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source_id, state, started_at, doc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, doc = excluded.doc`,
		run.ID, run.SourceID, string(run.State), run.StartedAt.UnixNano(), string(raw))
	if err != nil {
		return errors.WrapResource("save", "run", run.ID, err)
	}
	return nil
}

// GetRun implements store.RunStore.
func (s *Store) GetRun(ctx context.Context, id string) (records.Run, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM runs WHERE id = ?`, id).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return records.Run{}, errors.NewNotFoundError("run", id)
	}
	if err != nil {
		return records.Run{}, errors.WrapResource("get", "run", id, err)
	}
	var run records.Run
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return records.Run{}, errors.WrapParse("json", id, err)
	}
	return run, nil
}

// ListRuns implements store.RunStore. Newest runs come first.
func (s *Store) ListRuns(ctx context.Context, sourceID string, limit int) ([]records.Run, error) {
	query := `SELECT doc FROM runs WHERE (? = '' OR source_id = ?) ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, sourceID, sourceID)
	if err != nil {
		return nil, errors.WrapResource("list", "runs", "", err)
	}
	defer rows.Close()

	var out []records.Run
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.WrapResource("scan", "run", "", err)
		}
		var run records.Run
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, errors.WrapParse("json", "run", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
