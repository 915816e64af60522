// ABOUTME: SQLite implementation of the KV interface using modernc.org/sqlite
// ABOUTME: Provides TTL-aware key/value persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the KV interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	done   chan struct{}
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// SQLite handles one writer at a time; serialize at the pool level so
	// concurrent bucket/cache mutations queue instead of returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	go s.sweep()

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the kv table if it doesn't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_kv_expires_at
			ON kv(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value for key, or ErrNotFound if missing or expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64

	row := s.db.QueryRowContext(ctx, "SELECT value, expires_at FROM kv WHERE key = ?", key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying key: %w", err)
	}

	// An entry at exactly TTL elapsed is expired
	if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixNano() {
		return nil, ErrNotFound
	}

	return value, nil
}

// Set stores value under key, overwriting any previous value.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(ttl).UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	return nil
}

// Incr atomically adds delta to the counter at key and returns the new value.
func (s *SQLiteStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	var raw []byte
	var expiresAt sql.NullInt64
	row := tx.QueryRowContext(ctx, "SELECT value, expires_at FROM kv WHERE key = ?", key)
	err = row.Scan(&raw, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("querying counter: %w", err)
	default:
		if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixNano() {
			current = 0
			expiresAt = sql.NullInt64{}
		} else if current, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
			return 0, fmt.Errorf("key %q does not hold an integer: %w", key, err)
		}
	}

	next := current + delta
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, []byte(strconv.FormatInt(next, 10)), expiresAt)
	if err != nil {
		return 0, fmt.Errorf("writing counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing counter: %w", err)
	}
	return next, nil
}

// Expire resets the TTL on an existing, unexpired key.
func (s *SQLiteStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(ttl).UnixNano(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE kv SET expires_at = ?
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, expiresAt, key, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("updating expiry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking expiry update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

// sweep runs in a background goroutine, periodically removing expired rows
func (s *SQLiteStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.db.Exec("DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?", time.Now().UnixNano())
			if err != nil {
				s.logger.Warn("expired key sweep failed", "error", err)
				continue
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				s.logger.Debug("swept expired keys", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the sweeper and closes the database.
func (s *SQLiteStore) Close() error {
	close(s.done)
	return s.db.Close()
}
