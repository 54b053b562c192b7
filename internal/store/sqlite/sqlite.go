// Package sqlite provides the durable, SQLite-backed persistent store. It
// enforces a byte quota, rejects oversized records per key, and feeds the
// change-notification stream from a change log table polled by watchers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

const (
	// DefaultQuotaBytes mirrors the 100KB sync-storage quota of the
	// originating platform.
	DefaultQuotaBytes = 102400
	// DefaultMaxValueBytes caps a single record.
	DefaultMaxValueBytes = 8192
	// DefaultPollInterval is the change-log polling cadence.
	DefaultPollInterval = 200 * time.Millisecond

	// changeLogRetention bounds the change_log table size.
	changeLogRetention = 1000
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS change_log (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	op     TEXT NOT NULL,
	key    TEXT,
	record TEXT
);
`

// Options tunes a SQLiteStore.
type Options struct {
	QuotaBytes    int
	MaxValueBytes int
	PollInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.QuotaBytes <= 0 {
		o.QuotaBytes = DefaultQuotaBytes
	}
	if o.MaxValueBytes <= 0 {
		o.MaxValueBytes = DefaultMaxValueBytes
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// SQLiteStore implements store.Store on a SQLite database file. Multiple
// processes may open the same file; each observes the others' commits
// through the change log.
type SQLiteStore struct {
	db   *sql.DB
	opts Options

	mu     sync.Mutex
	closed bool

	watchWG sync.WaitGroup
}

// New opens (creating if needed) a SQLite store at dbPath.
func New(dbPath string, opts Options) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("sqlite store: db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open db: %w", err)
	}
	// The modernc driver serializes badly across connections; one writer
	// connection avoids SQLITE_BUSY on concurrent watchers.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, opts: opts.withDefaults()}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}
	return s, nil
}

// Close stops all watchers and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.watchWG.Wait()
	return s.db.Close()
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func decodeRecord(data []byte) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return store.Record{}, fmt.Errorf("sqlite store: decode record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, keys []string) (map[string]store.Record, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	out := make(map[string]store.Record, len(keys))
	for _, key := range keys {
		var data []byte
		err := s.db.QueryRowContext(ctx, `SELECT record FROM settings WHERE key = ?`, key).Scan(&data)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite store: get %q: %w", key, err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, nil
}

func (s *SQLiteStore) GetAll(ctx context.Context) (map[string]store.Record, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, record FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get all: %w", err)
	}
	defer rows.Close()
	out := make(map[string]store.Record)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, rows.Err()
}

func (s *SQLiteStore) usedBytes(ctx context.Context, tx *sql.Tx) (int, error) {
	var used sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT SUM(LENGTH(key) + LENGTH(record)) FROM settings`).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: quota check: %w", err)
	}
	return int(used.Int64), nil
}

func (s *SQLiteStore) Set(ctx context.Context, records map[string]store.Record) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()

	rejected := make(map[string]error)
	type encoded struct {
		key  string
		data []byte
	}
	var accepted []encoded
	delta := 0
	for key, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			rejected[key] = fmt.Errorf("record not serializable: %w", err)
			continue
		}
		size := len(key) + len(data)
		if size > s.opts.MaxValueBytes {
			rejected[key] = fmt.Errorf("%w: record is %d bytes, per-key limit %d",
				store.ErrQuotaExceeded, size, s.opts.MaxValueBytes)
			continue
		}
		delta += size
		var prev sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT LENGTH(key) + LENGTH(record) FROM settings WHERE key = ?`, key).Scan(&prev)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("sqlite store: size lookup: %w", err)
		}
		delta -= int(prev.Int64)
		accepted = append(accepted, encoded{key: key, data: data})
	}

	used, err := s.usedBytes(ctx, tx)
	if err != nil {
		return err
	}
	if used+delta > s.opts.QuotaBytes {
		return fmt.Errorf("%w: %d bytes used, write adds %d, quota %d",
			store.ErrQuotaExceeded, used, delta, s.opts.QuotaBytes)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range accepted {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, record, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
			e.key, e.data, now); err != nil {
			return fmt.Errorf("sqlite store: set %q: %w", e.key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_log (op, key, record) VALUES ('set', ?, ?)`,
			e.key, e.data); err != nil {
			return fmt.Errorf("sqlite store: log change: %w", err)
		}
	}
	if err := s.pruneLog(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}

	if len(rejected) > 0 {
		committed := make([]string, 0, len(accepted))
		for _, e := range accepted {
			committed = append(committed, e.key)
		}
		return &store.PartialError{Committed: committed, Rejected: rejected}
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, keys []string) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()
	for _, key := range keys {
		res, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("sqlite store: remove %q: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO change_log (op, key) VALUES ('remove', ?)`, key); err != nil {
				return fmt.Errorf("sqlite store: log change: %w", err)
			}
		}
	}
	if err := s.pruneLog(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("sqlite store: clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO change_log (op) VALUES ('clear')`); err != nil {
		return fmt.Errorf("sqlite store: log change: %w", err)
	}
	if err := s.pruneLog(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for key, rec := range all {
		if rec.Expired(now) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if err := s.Remove(ctx, expired); err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *SQLiteStore) pruneLog(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM change_log WHERE seq <= (
		SELECT COALESCE(MAX(seq), 0) - ? FROM change_log)`, changeLogRetention)
	if err != nil {
		return fmt.Errorf("sqlite store: prune change log: %w", err)
	}
	return nil
}
