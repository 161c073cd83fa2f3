package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/internal/wildcard"
	_ "github.com/mattn/go-sqlite3"
)

// BackendSQLite names the durable backend.
const BackendSQLite = "sqlite"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS memory (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expiration REAL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_expiration ON memory(expiration);
`

// SQLiteBackend persists entries in a single sqlite table so they survive a
// restart. Expiration is stored as epoch seconds.
type SQLiteBackend struct {
	db   *sql.DB
	path string
	opts BackendOptions

	mu     sync.Mutex
	closed bool
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string, opts BackendOptions) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: path, opts: opts}, nil
}

func (b *SQLiteBackend) Name() string { return BackendSQLite }

// Path returns the database file location.
func (b *SQLiteBackend) Path() string { return b.path }

func (b *SQLiteBackend) fail(op, key string, err error) error {
	return &BackendError{Backend: BackendSQLite, Op: op, Key: key, Err: err}
}

func toEpoch(t time.Time) sql.NullFloat64 {
	if t.IsZero() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: float64(t.UnixNano()) / 1e9, Valid: true}
}

func fromEpoch(v sql.NullFloat64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	sec, frac := math.Modf(v.Float64)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.fail("set", key, ErrClosed)
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO memory (key, value, expiration) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expiration = excluded.expiration
	`, key, string(value), toEpoch(expiryFor(b.opts.now(), ttl)))
	if err != nil {
		return b.fail("set", key, err)
	}
	return nil
}

// lookupLocked reads the live row for key, deleting it if it has expired.
func (b *SQLiteBackend) lookupLocked(ctx context.Context, op, key string) (string, time.Time, error) {
	var (
		value string
		exp   sql.NullFloat64
	)
	err := b.db.QueryRowContext(ctx, "SELECT value, expiration FROM memory WHERE key = ?", key).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, b.fail(op, key, err)
	}

	expiresAt := fromEpoch(exp)
	if expired(expiresAt, b.opts.now()) {
		if _, err := b.db.ExecContext(ctx, "DELETE FROM memory WHERE key = ?", key); err != nil {
			return "", time.Time{}, b.fail(op, key, err)
		}
		observability.RecordMemoryExpired(BackendSQLite, "read", 1)
		return "", time.Time{}, ErrNotFound
	}
	return value, expiresAt, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, b.fail("get", key, ErrClosed)
	}
	value, _, err := b.lookupLocked(ctx, "get", key)
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.fail("delete", key, ErrClosed)
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM memory WHERE key = ?", key); err != nil {
		return b.fail("delete", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, b.fail("exists", key, ErrClosed)
	}
	_, _, err := b.lookupLocked(ctx, "exists", key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *SQLiteBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	p, err := parseKeyPattern(pattern)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, b.fail("keys", pattern, ErrClosed)
	}

	now := toEpoch(b.opts.now()).Float64
	query := "SELECT key FROM memory WHERE (expiration IS NULL OR expiration > ?)"
	args := []any{now}
	switch p.Kind() {
	case wildcard.Exact:
		query += " AND key = ?"
		args = append(args, p.Fixed())
	case wildcard.Prefix:
		if p.Fixed() != "" {
			query += " AND substr(key, 1, length(?)) = ?"
			args = append(args, p.Fixed(), p.Fixed())
		}
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, b.fail("keys", pattern, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, b.fail("keys", pattern, err)
		}
		// suffix patterns are filtered here
		if p.Match(k) {
			keys = append(keys, k)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, b.fail("keys", pattern, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *SQLiteBackend) Expiration(ctx context.Context, key string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return time.Time{}, b.fail("expiration", key, ErrClosed)
	}
	_, expiresAt, err := b.lookupLocked(ctx, "expiration", key)
	return expiresAt, err
}

func (b *SQLiteBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.fail("clear", "", ErrClosed)
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM memory"); err != nil {
		return b.fail("clear", "", err)
	}
	return nil
}

func (b *SQLiteBackend) CleanupExpired(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, b.fail("cleanup", "", ErrClosed)
	}
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM memory WHERE expiration IS NOT NULL AND expiration <= ?",
		toEpoch(b.opts.now()).Float64)
	if err != nil {
		return 0, b.fail("cleanup", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, b.fail("cleanup", "", err)
	}
	return int(n), nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
