package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/tutor/pkg/models"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS active_sessions (
	username TEXT PRIMARY KEY,
	last_seen INTEGER NOT NULL
);
`

// SQLiteRegistry keeps one row per logged-in username. Every mutation runs
// in its own transaction.
type SQLiteRegistry struct {
	db    *sql.DB
	lease lease
}

// NewSQLite creates the sessions table if needed and returns a registry
// whose sessions expire after timeout.
func NewSQLite(db *sql.DB, timeout time.Duration) (*SQLiteRegistry, error) {
	if _, err := db.Exec(createSessionsTable); err != nil {
		return nil, fmt.Errorf("migrate sessions table: %w", err)
	}
	return &SQLiteRegistry{db: db, lease: newLease(timeout)}, nil
}

// CleanExpired deletes expired rows and returns the surviving records.
func (r *SQLiteRegistry) CleanExpired(ctx context.Context, now time.Time) ([]models.SessionRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("clean sessions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM active_sessions WHERE ? - last_seen > ?`,
		now.Unix(), r.lease.timeoutSec,
	); err != nil {
		return nil, fmt.Errorf("clean sessions: %w", err)
	}

	survivors, err := listSessions(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("clean sessions: %w", err)
	}
	return survivors, nil
}

// IsActive reports whether a non-expired row exists for username.
func (r *SQLiteRegistry) IsActive(ctx context.Context, username string, now time.Time) (bool, error) {
	lastSeen, ok, err := lastSeenOf(ctx, r.db, username)
	if err != nil {
		return false, err
	}
	return ok && !r.lease.expired(lastSeen, now), nil
}

// Login inserts a row for username unless a live one already exists. An
// expired row is replaced.
func (r *SQLiteRegistry) Login(ctx context.Context, username string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lastSeen, ok, err := lastSeenOf(ctx, tx, username)
	if err != nil {
		return err
	}
	if ok && !r.lease.expired(lastSeen, now) {
		return ErrAlreadyActive
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_sessions (username, last_seen) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET last_seen = excluded.last_seen`,
		username, now.Unix(),
	); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return tx.Commit()
}

// Touch moves last_seen to now. An expired row is removed instead.
func (r *SQLiteRegistry) Touch(ctx context.Context, username string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lastSeen, ok, err := lastSeenOf(ctx, tx, username)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotActive
	}
	if r.lease.expired(lastSeen, now) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_sessions WHERE username = ?`, username); err != nil {
			return fmt.Errorf("touch: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("touch: %w", err)
		}
		return ErrNotActive
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE active_sessions SET last_seen = ? WHERE username = ?`,
		now.Unix(), username,
	); err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	return tx.Commit()
}

// Logout deletes the row for username if any.
func (r *SQLiteRegistry) Logout(ctx context.Context, username string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE username = ?`, username); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// List returns every row ordered by username.
func (r *SQLiteRegistry) List(ctx context.Context) ([]models.SessionRecord, error) {
	return listSessions(ctx, r.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastSeenOf(ctx context.Context, q querier, username string) (int64, bool, error) {
	var lastSeen int64
	err := q.QueryRowContext(ctx,
		`SELECT last_seen FROM active_sessions WHERE username = ?`, username,
	).Scan(&lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read session: %w", err)
	}
	return lastSeen, true, nil
}

func listSessions(ctx context.Context, q querier) ([]models.SessionRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT username, last_seen FROM active_sessions ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.SessionRecord
	for rows.Next() {
		var (
			username string
			lastSeen int64
		)
		if err := rows.Scan(&username, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, record(username, lastSeen))
	}
	return sessions, rows.Err()
}
