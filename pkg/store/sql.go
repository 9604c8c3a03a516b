package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onoal/nucleus/pkg/ledger"
)

// dialect abstracts the placeholder syntax difference between the sqlite
// and postgres drivers. Everything else is shared SQL.
type dialect interface {
	Name() string
	// Rebind rewrites ? placeholders into the driver's native form.
	Rebind(query string) string
}

type questionDialect struct{}

func (questionDialect) Name() string               { return "sqlite" }
func (questionDialect) Rebind(query string) string { return query }

type dollarDialect struct{}

func (dollarDialect) Name() string { return "postgres" }

func (dollarDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	stream TEXT NOT NULL,
	timestamp BIGINT NOT NULL,
	payload TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	prev_hash TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	meta TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries (timestamp, id);
CREATE INDEX IF NOT EXISTS idx_entries_stream ON entries (stream, timestamp);

CREATE TABLE IF NOT EXISTS tip (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	entry_id TEXT NOT NULL,
	hash TEXT NOT NULL,
	timestamp BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	root_hash TEXT NOT NULL,
	signature TEXT NOT NULL,
	entries_count BIGINT NOT NULL,
	start_timestamp BIGINT NOT NULL,
	end_timestamp BIGINT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stream_stats (
	stream TEXT PRIMARY KEY,
	total_entries BIGINT NOT NULL,
	last_entry_timestamp BIGINT NOT NULL,
	last_entry_hash TEXT NOT NULL
);
`

const entryColumns = "id, stream, timestamp, payload, hash, prev_hash, signature, status, meta, created_at"

// SQLStore implements Backend over database/sql. It backs both the sqlite
// and postgres stores; only placeholder syntax differs.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.migrate(); err != nil {
		return nil, &ledger.StorageError{Op: "migrate", Err: err}
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), sqlSchema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) saveEntry(ctx context.Context, ex execer, e *ledger.Entry) error {
	query := s.d.Rebind(`INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var meta any
	if len(e.Meta) > 0 {
		meta = string(e.Meta)
	}
	_, err := ex.ExecContext(ctx, query,
		e.ID, e.Stream, e.Timestamp, string(e.Payload), e.Hash, e.PrevHash,
		e.Signature, string(e.Status), meta, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &ledger.StorageError{Op: "save_entry", Err: err}
	}
	return nil
}

func (s *SQLStore) SaveEntry(ctx context.Context, e *ledger.Entry) error {
	return s.saveEntry(ctx, s.db, e)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var e ledger.Entry
	var payload, status, createdAt string
	var meta sql.NullString
	err := row.Scan(&e.ID, &e.Stream, &e.Timestamp, &payload, &e.Hash,
		&e.PrevHash, &e.Signature, &status, &meta, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.Status = ledger.Status(status)
	if meta.Valid {
		e.Meta = json.RawMessage(meta.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args ...any) (*ledger.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, s.d.Rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, &ledger.StorageError{Op: "load_entry", Err: err}
	}
	return e, nil
}

func (s *SQLStore) LoadEntryByID(ctx context.Context, id string) (*ledger.Entry, error) {
	return s.queryOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
}

func (s *SQLStore) LoadEntryByHash(ctx context.Context, hash string) (*ledger.Entry, error) {
	return s.queryOne(ctx, `SELECT `+entryColumns+` FROM entries WHERE hash = ?`, hash)
}

func (s *SQLStore) LoadLatestEntry(ctx context.Context) (*ledger.Entry, error) {
	return s.queryOne(ctx, `SELECT `+entryColumns+` FROM entries ORDER BY timestamp DESC, id DESC LIMIT 1`)
}

func (s *SQLStore) queryMany(ctx context.Context, query string, args ...any) ([]*ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.d.Rebind(query), args...)
	if err != nil {
		return nil, &ledger.StorageError{Op: "load_entries", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &ledger.StorageError{Op: "load_entries", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "load_entries", Err: err}
	}
	return out, nil
}

func (s *SQLStore) LoadEntriesInRange(ctx context.Context, startTS int64, limit int) ([]*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE timestamp >= ? ORDER BY timestamp ASC, id ASC`
	args := []any{startTS}
	if startTS <= 0 {
		args[0] = int64(0)
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMany(ctx, query, args...)
}

func (s *SQLStore) LoadEntriesBetween(ctx context.Context, startTS, endTS int64) ([]*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC, id ASC`
	return s.queryMany(ctx, query, startTS, endTS)
}

func (s *SQLStore) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	if err != nil {
		return 0, &ledger.StorageError{Op: "count_entries", Err: err}
	}
	return n, nil
}

func (s *SQLStore) Query(ctx context.Context, f QueryFilters) (*QueryResult, error) {
	where, args := buildFilterClause(f)

	var total int64
	countQuery := `SELECT COUNT(*) FROM entries` + where
	if err := s.db.QueryRowContext(ctx, s.d.Rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, &ledger.StorageError{Op: "query_count", Err: err}
	}

	pageWhere, pageArgs := where, args
	if f.Cursor != "" {
		cur, err := s.LoadEntryByID(ctx, f.Cursor)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		// An unknown cursor starts from the beginning.
		if cur != nil {
			cond := `(timestamp > ? OR (timestamp = ? AND id > ?))`
			if pageWhere == "" {
				pageWhere = ` WHERE ` + cond
			} else {
				pageWhere += ` AND ` + cond
			}
			pageArgs = append(append([]any{}, args...), cur.Timestamp, cur.Timestamp, cur.ID)
		}
	}

	limit := clampLimit(f.Limit)
	// Fetch one extra row to detect a next page.
	query := `SELECT ` + entryColumns + ` FROM entries` + pageWhere +
		` ORDER BY timestamp ASC, id ASC LIMIT ?`
	entries, err := s.queryMany(ctx, query, append(pageArgs, limit+1)...)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Entries: entries, Total: total}
	if len(entries) > limit {
		res.Entries = entries[:limit]
		res.HasMore = true
		res.NextCursor = res.Entries[limit-1].ID
	}
	if res.Entries == nil {
		res.Entries = []*ledger.Entry{}
	}
	return res, nil
}

func buildFilterClause(f QueryFilters) (string, []any) {
	var conds []string
	var args []any
	if f.Stream != "" {
		conds = append(conds, `stream = ?`)
		args = append(args, f.Stream)
	}
	if f.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, string(f.Status))
	}
	if f.StartTimestamp > 0 {
		conds = append(conds, `timestamp >= ?`)
		args = append(args, f.StartTimestamp)
	}
	if f.EndTimestamp > 0 {
		conds = append(conds, `timestamp <= ?`)
		args = append(args, f.EndTimestamp)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

func (s *SQLStore) GetTip(ctx context.Context) (*ledger.Tip, error) {
	var tip ledger.Tip
	err := s.db.QueryRowContext(ctx, `SELECT entry_id, hash, timestamp FROM tip WHERE id = 1`).
		Scan(&tip.EntryID, &tip.Hash, &tip.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, &ledger.StorageError{Op: "get_tip", Err: err}
	}
	return &tip, nil
}

func (s *SQLStore) updateTip(ctx context.Context, ex execer, tip ledger.Tip) error {
	query := s.d.Rebind(`INSERT INTO tip (id, entry_id, hash, timestamp) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET entry_id = excluded.entry_id,
		hash = excluded.hash, timestamp = excluded.timestamp`)
	if _, err := ex.ExecContext(ctx, query, tip.EntryID, tip.Hash, tip.Timestamp); err != nil {
		return &ledger.StorageError{Op: "update_tip", Err: err}
	}
	return nil
}

func (s *SQLStore) UpdateTip(ctx context.Context, tip ledger.Tip) error {
	return s.updateTip(ctx, s.db, tip)
}

func (s *SQLStore) UpsertCheckpoint(ctx context.Context, cp *ledger.Checkpoint) error {
	query := s.d.Rebind(`INSERT INTO checkpoints
		(id, root_hash, signature, entries_count, start_timestamp, end_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET root_hash = excluded.root_hash,
		signature = excluded.signature, entries_count = excluded.entries_count,
		start_timestamp = excluded.start_timestamp, end_timestamp = excluded.end_timestamp`)
	_, err := s.db.ExecContext(ctx, query, cp.ID, cp.RootHash, cp.Signature,
		cp.EntriesCount, cp.StartTimestamp, cp.EndTimestamp,
		cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &ledger.StorageError{Op: "upsert_checkpoint", Err: err}
	}
	return nil
}

func scanCheckpoint(row rowScanner) (*ledger.Checkpoint, error) {
	var cp ledger.Checkpoint
	var createdAt string
	err := row.Scan(&cp.ID, &cp.RootHash, &cp.Signature, &cp.EntriesCount,
		&cp.StartTimestamp, &cp.EndTimestamp, &createdAt)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		cp.CreatedAt = t
	}
	return &cp, nil
}

func (s *SQLStore) GetCheckpoint(ctx context.Context, id string) (*ledger.Checkpoint, error) {
	query := s.d.Rebind(`SELECT id, root_hash, signature, entries_count, start_timestamp, end_timestamp, created_at
		FROM checkpoints WHERE id = ?`)
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, &ledger.StorageError{Op: "get_checkpoint", Err: err}
	}
	return cp, nil
}

func (s *SQLStore) ListCheckpoints(ctx context.Context, limit int) ([]*ledger.Checkpoint, error) {
	query := `SELECT id, root_hash, signature, entries_count, start_timestamp, end_timestamp, created_at
		FROM checkpoints ORDER BY end_timestamp DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.Rebind(query), args...)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list_checkpoints", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, &ledger.StorageError{Op: "list_checkpoints", Err: err}
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "list_checkpoints", Err: err}
	}
	return out, nil
}

func (s *SQLStore) upsertStats(ctx context.Context, ex execer, st ledger.StreamStats) error {
	query := s.d.Rebind(`INSERT INTO stream_stats
		(stream, total_entries, last_entry_timestamp, last_entry_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream) DO UPDATE SET total_entries = excluded.total_entries,
		last_entry_timestamp = excluded.last_entry_timestamp,
		last_entry_hash = excluded.last_entry_hash`)
	if _, err := ex.ExecContext(ctx, query, st.Stream, st.TotalEntries,
		st.LastEntryTimestamp, st.LastEntryHash); err != nil {
		return &ledger.StorageError{Op: "upsert_stats", Err: err}
	}
	return nil
}

func (s *SQLStore) UpsertStats(ctx context.Context, st ledger.StreamStats) error {
	return s.upsertStats(ctx, s.db, st)
}

func (s *SQLStore) GetStats(ctx context.Context, stream string) (*ledger.StreamStats, error) {
	var st ledger.StreamStats
	query := s.d.Rebind(`SELECT stream, total_entries, last_entry_timestamp, last_entry_hash
		FROM stream_stats WHERE stream = ?`)
	err := s.db.QueryRowContext(ctx, query, stream).
		Scan(&st.Stream, &st.TotalEntries, &st.LastEntryTimestamp, &st.LastEntryHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, &ledger.StorageError{Op: "get_stats", Err: err}
	}
	return &st, nil
}

func (s *SQLStore) ListStats(ctx context.Context) ([]*ledger.StreamStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stream, total_entries, last_entry_timestamp, last_entry_hash FROM stream_stats ORDER BY stream`)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list_stats", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.StreamStats
	for rows.Next() {
		var st ledger.StreamStats
		if err := rows.Scan(&st.Stream, &st.TotalEntries, &st.LastEntryTimestamp, &st.LastEntryHash); err != nil {
			return nil, &ledger.StorageError{Op: "list_stats", Err: err}
		}
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "list_stats", Err: err}
	}
	return out, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// BeginTx wraps the append write unit in a database transaction.
func (s *SQLStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &ledger.StorageError{Op: "begin_tx", Err: err}
	}
	return &sqlTx{store: s, tx: tx}, nil
}

type sqlTx struct {
	store *SQLStore
	tx    *sql.Tx
}

func (t *sqlTx) SaveEntry(ctx context.Context, e *ledger.Entry) error {
	return t.store.saveEntry(ctx, t.tx, e)
}

func (t *sqlTx) UpdateTip(ctx context.Context, tip ledger.Tip) error {
	return t.store.updateTip(ctx, t.tx, tip)
}

func (t *sqlTx) UpsertStats(ctx context.Context, st ledger.StreamStats) error {
	return t.store.upsertStats(ctx, t.tx, st)
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return &ledger.StorageError{Op: "tx_commit", Err: err}
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
