// Package sqlite caches summary replies by prompt hash.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/tutor/pkg/models"
)

// Cache is an exact-match reply cache backed by SQLite.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	prompt_hash TEXT NOT NULL,
	model TEXT NOT NULL,
	reply TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL,
	PRIMARY KEY (prompt_hash, model)
);
`

// New creates a Cache with the given database path and TTL.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// HashPrompt computes a SHA-256 hash of the model and the exact prompt text.
func HashPrompt(model, prompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached reply, or false if it is missing or expired at now.
func (c *Cache) Get(ctx context.Context, promptHash, model string, now time.Time) (string, bool) {
	var (
		reply      string
		createdAt  int64
		ttlSeconds int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT reply, created_at, ttl_seconds FROM cache_entries WHERE prompt_hash = ? AND model = ?`,
		promptHash, model,
	).Scan(&reply, &createdAt, &ttlSeconds)
	if err != nil {
		c.misses.Add(1)
		return "", false
	}

	if now.Unix()-createdAt >= ttlSeconds {
		c.misses.Add(1)
		return "", false
	}

	c.hits.Add(1)
	return reply, true
}

// Put stores a reply created at now.
func (c *Cache) Put(ctx context.Context, promptHash, model, reply string, now time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (prompt_hash, model, reply, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		promptHash, model, reply, now.Unix(), int64(c.ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Entry returns the stored entry for a hash regardless of expiry.
func (c *Cache) Entry(ctx context.Context, promptHash, model string) (models.CacheEntry, error) {
	var (
		e          = models.CacheEntry{PromptHash: promptHash, Model: model}
		createdAt  int64
		ttlSeconds int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT reply, created_at, ttl_seconds FROM cache_entries WHERE prompt_hash = ? AND model = ?`,
		promptHash, model,
	).Scan(&e.Reply, &createdAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, fmt.Errorf("cache entry %s: not found", promptHash)
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("cache entry: %w", err)
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.TTL = time.Duration(ttlSeconds) * time.Second
	return e, nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries and reports how many were deleted. If
// expiredOnly is true, only entries expired at now are removed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool, now time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if expiredOnly {
		res, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE ? - created_at >= ttl_seconds`, now.Unix())
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
