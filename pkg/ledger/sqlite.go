package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/tutor/pkg/models"
)

const createUsageTables = `
CREATE TABLE IF NOT EXISTS usage_totals (
	key TEXT PRIMARY KEY,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_key_time ON usage_events(key, created_at);
`

// SQLiteLedger keeps one aggregate row per key plus an append-only event
// table. Record updates both in a single transaction.
type SQLiteLedger struct {
	db         *sql.DB
	pricePer1K float64
}

// NewSQLite creates the usage tables if needed.
func NewSQLite(db *sql.DB, pricePer1K float64) (*SQLiteLedger, error) {
	if _, err := db.Exec(createUsageTables); err != nil {
		return nil, fmt.Errorf("migrate usage tables: %w", err)
	}
	return &SQLiteLedger{db: db, pricePer1K: pricePer1K}, nil
}

// Record adds the counts to key.
func (l *SQLiteLedger) Record(ctx context.Context, key string, promptTokens, completionTokens int, at time.Time) (models.UsageRecord, error) {
	if err := validate(key, promptTokens, completionTokens); err != nil {
		return models.UsageRecord{}, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("record usage: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_events (key, prompt_tokens, completion_tokens, created_at) VALUES (?, ?, ?, ?)`,
		key, promptTokens, completionTokens, at.Unix(),
	); err != nil {
		return models.UsageRecord{}, fmt.Errorf("record usage event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_totals (key, prompt_tokens, completion_tokens, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			prompt_tokens = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			updated_at = excluded.updated_at`,
		key, promptTokens, completionTokens, at.Unix(),
	); err != nil {
		return models.UsageRecord{}, fmt.Errorf("record usage totals: %w", err)
	}

	rec, _, err := readTotals(ctx, tx, key, l.pricePer1K)
	if err != nil {
		return models.UsageRecord{}, err
	}

	// total and cost are stored for readers outside this process.
	if _, err := tx.ExecContext(ctx,
		`UPDATE usage_totals SET total_tokens = ?, cost = ? WHERE key = ?`,
		rec.TotalTokens, rec.Cost, key,
	); err != nil {
		return models.UsageRecord{}, fmt.Errorf("record usage cost: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.UsageRecord{}, fmt.Errorf("record usage: %w", err)
	}
	return rec, nil
}

// Read returns the totals of key.
func (l *SQLiteLedger) Read(ctx context.Context, key string) (models.UsageRecord, error) {
	rec, _, err := readTotals(ctx, l.db, key, l.pricePer1K)
	return rec, err
}

// ListKeys returns all keys with recorded usage.
func (l *SQLiteLedger) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT key FROM usage_totals ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// List returns the totals of every key.
func (l *SQLiteLedger) List(ctx context.Context) ([]models.UsageRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT key, prompt_tokens, completion_tokens, updated_at FROM usage_totals ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var (
			key                string
			prompt, completion int64
			updated            int64
		)
		if err := rows.Scan(&key, &prompt, &completion, &updated); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, totals(key, prompt, completion, l.pricePer1K, unixOrZero(updated)))
	}
	return records, rows.Err()
}

// TotalSince sums the events of key at or after since.
func (l *SQLiteLedger) TotalSince(ctx context.Context, key string, since time.Time) (int64, error) {
	var total int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(prompt_tokens + completion_tokens), 0) FROM usage_events WHERE key = ? AND created_at >= ?`,
		key, since.Unix(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readTotals(ctx context.Context, q rowQuerier, key string, pricePer1K float64) (models.UsageRecord, bool, error) {
	var prompt, completion, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT prompt_tokens, completion_tokens, updated_at FROM usage_totals WHERE key = ?`, key,
	).Scan(&prompt, &completion, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UsageRecord{Key: key}, false, nil
	}
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("read usage: %w", err)
	}
	return totals(key, prompt, completion, pricePer1K, unixOrZero(updated)), true, nil
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
