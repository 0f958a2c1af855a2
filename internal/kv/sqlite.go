// ABOUTME: SQLite implementation of the kv.Store interface using modernc.org/sqlite
// ABOUTME: TTL entries are expired lazily on read plus a periodic cleanup loop

package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewSQLiteStore creates a new SQLite-backed key-value store at the given
// path. The schema is created if it doesn't exist, and parent directories
// are created if needed. A background loop sweeps expired entries.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "kv")

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

	schema := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv_entries(expires_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteStore{
		db:     db,
		logger: logger,
		cancel: cancel,
	}
	go s.cleanupLoop(ctx)

	logger.Info("SQLite kv store initialized", "path", path)
	return s, nil
}

// Get returns the value for key, or ErrNotFound if absent or expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `
		SELECT value FROM kv_entries
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, time.Now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying kv entry: %w", err)
	}
	return value, nil
}

// Put stores value under key, replacing any existing entry.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query, key, value, expiryArg(ttl))
	if err != nil {
		return fmt.Errorf("inserting kv entry: %w", err)
	}
	return nil
}

// PutIfAbsent stores value under key only if no live entry exists.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	// An expired entry still occupies the row, so clear it first.
	purge := `DELETE FROM kv_entries WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`
	if _, err := s.db.ExecContext(ctx, purge, key, time.Now().UnixMilli()); err != nil {
		return false, fmt.Errorf("purging expired kv entry: %w", err)
	}

	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, key, value, expiryArg(ttl))
	if err != nil {
		return false, fmt.Errorf("inserting kv entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// GetDelete atomically fetches and removes the entry for key.
func (s *SQLiteStore) GetDelete(ctx context.Context, key string) ([]byte, error) {
	query := `
		DELETE FROM kv_entries
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
		RETURNING value
	`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, time.Now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming kv entry: %w", err)
	}
	return value, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting kv entry: %w", err)
	}
	return nil
}

// Close stops the cleanup loop and closes the database.
func (s *SQLiteStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.db.Close()
}

// expiryArg converts a ttl into the nullable expires_at column value.
func expiryArg(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl).UnixMilli()
}

// cleanupLoop periodically deletes expired entries so the table doesn't
// accumulate dead challenges. Reads never see expired rows either way.
func (s *SQLiteStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.db.ExecContext(ctx,
				"DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?",
				time.Now().UnixMilli(),
			)
			if err != nil {
				s.logger.Warn("kv cleanup failed", "error", err)
				continue
			}
			if n, _ := result.RowsAffected(); n > 0 {
				s.logger.Debug("swept expired kv entries", "count", n)
			}
		}
	}
}
