// Package kv is the concrete on-disk KV engine the rest of the storage
// layer is built on: an ordered byte-key/byte-value store, backed by a
// single SQLite database, that guarantees a lexicographic range scan
// over keys is a contiguous, efficiently-indexed scan. Every primary
// store (Event/TOC/Grip/Outbox/Checkpoint) is a thin, bucket-scoped
// layer over this package; it is the module's one dependency on the
// concrete "on-disk KV engine" capability spec.md treats as swappable.
package kv

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is an ordered key-value store partitioned into named buckets
// (the moral equivalent of the column families spec.md §6 lists under
// the persisted on-disk layout).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed KV store at path. Pass
// ":memory:" for an ephemeral store, used by component unit tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; SQLite serializes anyway
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			bucket TEXT NOT NULL,
			key    BLOB NOT NULL,
			value  BLOB NOT NULL,
			PRIMARY KEY (bucket, key)
		) WITHOUT ROWID;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (bleve's store
// adapter, sqlite-vec) that need their own tables in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Put writes a single key, overwriting any existing value. Use Batch for
// multi-key atomicity (e.g. spec.md I4: event + outbox entry together).
func (s *Store) Put(ctx context.Context, bucket string, key, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value)
	if err != nil {
		return fmt.Errorf("kv: put %s/%x: %w", bucket, key, err)
	}
	return nil
}

// PutIfAbsent writes key only if it does not already exist, returning
// created=false (and leaving the existing value untouched) otherwise.
// This backs IngestEvent's idempotency (I10).
func (s *Store) PutIfAbsent(ctx context.Context, bucket string, key, value []byte) (created bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(bucket, key) DO NOTHING`,
		bucket, key, value)
	if err != nil {
		return false, fmt.Errorf("kv: put-if-absent %s/%x: %w", bucket, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv: put-if-absent %s/%x: rows affected: %w", bucket, key, err)
	}
	return n > 0, nil
}

// Get reads a single key. found is false if the key does not exist.
func (s *Store) Get(ctx context.Context, bucket string, key []byte) (value []byte, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv: get %s/%x: %w", bucket, key, err)
	}
	return value, true, nil
}

// Delete removes a single key. Deleting is only ever used by accelerator
// indexes, never by primary stores (I1, I2).
func (s *Store) Delete(ctx context.Context, bucket string, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("kv: delete %s/%x: %w", bucket, key, err)
	}
	return nil
}

// Entry is a single key/value pair returned by IterRange.
type Entry struct {
	Key   []byte
	Value []byte
}

// IterRange returns entries in [from, to] (inclusive) ordered by key
// ascending, capped at limit (0 = unlimited). hasMore indicates whether
// more entries exist past the returned page.
func (s *Store) IterRange(ctx context.Context, bucket string, from, to []byte, limit int) (entries []Entry, hasMore bool, err error) {
	query := `SELECT key, value FROM kv WHERE bucket = ? AND key >= ? AND key <= ? ORDER BY key ASC`
	args := []any{bucket, from, to}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit+1)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("kv: iter-range %s: %w", bucket, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, false, fmt.Errorf("kv: iter-range %s: scan: %w", bucket, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("kv: iter-range %s: %w", bucket, err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
		hasMore = true
	}
	return entries, hasMore, nil
}

// Before returns up to limit entries with key strictly less than key,
// ordered by key descending (nearest to key first). Pair with After to
// walk outward from a bound without an inclusive range scan's off-by-
// one key arithmetic.
func (s *Store) Before(ctx context.Context, bucket string, key []byte, limit int) ([]Entry, error) {
	query := `SELECT key, value FROM kv WHERE bucket = ? AND key < ? ORDER BY key DESC`
	args := []any{bucket, key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEntries(ctx, "before", bucket, query, args)
}

// After returns up to limit entries with key strictly greater than
// key, ordered by key ascending.
func (s *Store) After(ctx context.Context, bucket string, key []byte, limit int) ([]Entry, error) {
	query := `SELECT key, value FROM kv WHERE bucket = ? AND key > ? ORDER BY key ASC`
	args := []any{bucket, key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEntries(ctx, "after", bucket, query, args)
}

func (s *Store) queryEntries(ctx context.Context, op, bucket, query string, args []any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("kv: %s %s: %w", op, bucket, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("kv: %s %s: scan: %w", op, bucket, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: %s %s: %w", op, bucket, err)
	}
	return entries, nil
}

// Write is a single put/delete operation queued in a Batch.
type Write struct {
	Bucket string
	Key    []byte
	Value  []byte // nil means delete
}

// Batch applies a set of writes atomically in a single transaction. It is
// the mechanism behind I4 (event + outbox entry written together) and
// every TocNode-version-plus-latest-pointer update (I3, I5).
func (s *Store) Batch(ctx context.Context, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: batch: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if w.Value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE bucket = ? AND key = ?`, w.Bucket, w.Key); err != nil {
				return fmt.Errorf("kv: batch: delete %s/%x: %w", w.Bucket, w.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`,
			w.Bucket, w.Key, w.Value); err != nil {
			return fmt.Errorf("kv: batch: put %s/%x: %w", w.Bucket, w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv: batch: commit: %w", err)
	}
	return nil
}

// CountBucket returns the number of keys in a bucket, used by Admin
// stats().
func (s *Store) CountBucket(ctx context.Context, bucket string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv WHERE bucket = ?`, bucket).Scan(&n); err != nil {
		return 0, fmt.Errorf("kv: count %s: %w", bucket, err)
	}
	return n, nil
}
