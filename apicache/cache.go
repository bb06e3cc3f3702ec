// Package apicache is the SQLite-backed disk cache fronting the upstream
// taxon search API: one row per (query, locale), with lazy TTL expiry on
// read.
package apicache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taxonfinder"
)

// SchemaVersion is the cache schema this store understands. A freshly
// created file (user_version == 0) is upgraded to SchemaVersion in place;
// any other version is a hard mismatch.
const SchemaVersion = 1

// Cache is the SQLite-backed store of raw upstream responses, keyed by
// (query, locale).
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// Open opens (creating if needed) the cache database at path and ensures
// its schema, upgrading from a blank file.
func Open(path string, ttl time.Duration) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("apicache: create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("apicache: open: %w", err)
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, ttl: ttl}, nil
}

func ensureSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("apicache: read schema version: %w", err)
	}
	if version != 0 && version != SchemaVersion {
		return taxonfinder.NewSchemaMismatch(
			fmt.Sprintf("cache schema version mismatch: expected %d, got %d", SchemaVersion, version),
			nil,
		)
	}
	if version == 0 {
		if _, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS api_cache (
				query TEXT NOT NULL,
				locale TEXT NOT NULL,
				response_json TEXT NOT NULL,
				created_at TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (query, locale)
			);
		`); err != nil {
			return fmt.Errorf("apicache: create schema: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("apicache: set schema version: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached raw JSON response for (query, locale), or ("",
// false) on a miss or an entry past TTL — expired rows are deleted in
// place.
func (c *Cache) Get(ctx context.Context, query, locale string) (string, bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("apicache: begin get tx: %w", err)
	}
	defer tx.Rollback()

	var responseJSON, createdAtRaw string
	err = tx.QueryRowContext(ctx, `
		SELECT response_json, created_at FROM api_cache WHERE query = ? AND locale = ?
	`, query, locale).Scan(&responseJSON, &createdAtRaw)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("apicache: get: %w", err)
	}

	createdAt, err := parseTimestamp(createdAtRaw)
	if err != nil {
		return "", false, fmt.Errorf("apicache: parse created_at: %w", err)
	}

	if time.Since(createdAt) > c.ttl {
		if _, err := tx.ExecContext(ctx, `DELETE FROM api_cache WHERE query = ? AND locale = ?`, query, locale); err != nil {
			return "", false, fmt.Errorf("apicache: evict expired row: %w", err)
		}
		return "", false, tx.Commit()
	}

	return responseJSON, true, tx.Commit()
}

// Put upserts the raw response JSON for (query, locale).
func (c *Cache) Put(ctx context.Context, query, locale, responseJSON string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO api_cache (query, locale, response_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query, locale) DO UPDATE SET
			response_json = excluded.response_json,
			created_at = excluded.created_at
	`, query, locale, responseJSON, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("apicache: put: %w", err)
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", raw)
}
