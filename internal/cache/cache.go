// Package cache stores compiled artifacts in SQLite, keyed by a hash of
// the module text, the backend and the target.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one cached artifact.
type Entry struct {
	Key     string
	Backend string
	Target  string
	// ID is the build ID the artifact was produced under.
	ID      uuid.UUID
	Body    []byte
	Created time.Time
	Hits    int
}

// Cache is an artifact cache database.
type Cache struct {
	db *sql.DB
}

// Open creates or opens the cache at path. ":memory:" opens a private
// in-memory cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: connect %s: %w", path, err)
	}
	// One connection: SQLite has a single writer and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Key returns the cache key of module text compiled by backend for target.
func Key(backend, target string, module []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", backend, target)
	h.Write(module)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry stored under key and counts the hit.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e       Entry
		id      string
		created int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT key, backend, target, build_id, body, created_at, hits
		FROM artifacts WHERE key = ?
	`, key).Scan(&e.Key, &e.Backend, &e.Target, &id, &e.Body, &created, &e.Hits)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return Entry{}, false, fmt.Errorf("cache: entry %s: %w", key, err)
	}
	e.Created = time.Unix(0, created).UTC()

	if _, err := c.db.ExecContext(ctx, `UPDATE artifacts SET hits = hits + 1 WHERE key = ?`, key); err != nil {
		return Entry{}, false, fmt.Errorf("cache: count hit %s: %w", key, err)
	}
	e.Hits++
	return e, true, nil
}

// Put stores e, replacing any entry with the same key. A zero Created is
// set to the current time.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if e.Created.IsZero() {
		e.Created = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, backend, target, build_id, body, created_at, hits)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (key) DO UPDATE SET
			backend = excluded.backend, target = excluded.target,
			build_id = excluded.build_id, body = excluded.body,
			created_at = excluded.created_at, hits = 0
	`, e.Key, e.Backend, e.Target, e.ID.String(), e.Body, e.Created.UnixNano())
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", e.Key, err)
	}
	return nil
}

// Len returns the number of entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}

// Prune deletes entries created before cutoff and returns how many were
// removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	return int(n), nil
}
