// Package audit keeps a queryable record of every model call: who asked,
// which kind of call, token counts, latency and outcome. Prompt and reply
// text are not stored.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/tutor/pkg/models"
)

// maxErrorLen bounds the stored error text of a failed call.
const maxErrorLen = 512

// Logger writes and queries audit entries in a dedicated SQLite database.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the audit SQLite database, creates the schema and starts the
// hourly retention loop.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS model_calls (
		request_id        TEXT PRIMARY KEY,
		username          TEXT NOT NULL,
		ledger_key        TEXT NOT NULL,
		kind              TEXT NOT NULL,
		provider          TEXT,
		model             TEXT NOT NULL,
		status            TEXT NOT NULL,
		error             TEXT,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		latency_ms        INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_created ON model_calls(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_user ON model_calls(username)`)
	return err
}

// Log inserts an audit entry. A nil Logger discards the entry.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}

	errText := entry.Error
	if len(errText) > maxErrorLen {
		errText = errText[:maxErrorLen]
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO model_calls
		(request_id, username, ledger_key, kind, provider, model, status, error,
		 prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Username, entry.Key, string(entry.Kind),
		entry.Provider, entry.Model, entry.Status, errText,
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
		entry.LatencyMs, entry.CreatedAt.Unix(),
	)
	return err
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, username, ledger_key, kind, provider, model, status, error,
		prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at
		FROM model_calls WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Username != "" {
		q += " AND username = ?"
		args = append(args, opts.Username)
	}
	if opts.Key != "" {
		q += " AND ledger_key = ?"
		args = append(args, opts.Key)
	}
	if opts.Kind != "" {
		q += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.Unix())
	}

	q += " ORDER BY created_at DESC, request_id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e         models.AuditEntry
			kind      string
			provider  sql.NullString
			errText   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(
			&e.RequestID, &e.Username, &e.Key, &kind, &provider, &e.Model,
			&e.Status, &errText,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens,
			&e.LatencyMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Kind = models.CallKind(kind)
		e.Provider = provider.String
		e.Error = errText.String
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by kind and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, date(created_at, 'unixepoch') AS day, count(*) AS cnt,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
			COALESCE(SUM(total_tokens), 0)
		 FROM model_calls GROUP BY kind, day ORDER BY day DESC, kind`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var (
			s    models.AuditStat
			kind string
			day  sql.NullString
		)
		if err := rows.Scan(&kind, &day, &s.Count, &s.Errors, &s.Tokens); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Kind = models.CallKind(kind)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the retention period as of now. A
// retention of zero days keeps everything.
func (l *Logger) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM model_calls WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background(), time.Now())
		}
	}
}
