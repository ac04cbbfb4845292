// Package registry tracks which usernames hold the single active session
// allowed per account. A session is a lease: it stays valid while activity
// keeps refreshing it and lapses once it has been idle for longer than the
// timeout, so a closed browser never locks an account for good.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/pario-ai/tutor/pkg/models"
)

var (
	// ErrAlreadyActive is returned by Login while a live session exists.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotActive is returned by Touch when no live session exists.
	ErrNotActive = errors.New("session not active")
)

// Registry enforces at most one live session per username.
type Registry interface {
	// CleanExpired removes every record idle for longer than the timeout
	// and returns the records that survive.
	CleanExpired(ctx context.Context, now time.Time) ([]models.SessionRecord, error)
	// IsActive reports whether username holds a live session at now.
	IsActive(ctx context.Context, username string, now time.Time) (bool, error)
	// Login opens a session, failing with ErrAlreadyActive if a live one exists.
	Login(ctx context.Context, username string, now time.Time) error
	// Touch refreshes the session of username.
	Touch(ctx context.Context, username string, now time.Time) error
	// Logout removes the session of username. Removing an absent session is not an error.
	Logout(ctx context.Context, username string) error
	// List returns all stored records ordered by username, expired or not.
	List(ctx context.Context) ([]models.SessionRecord, error)
}

// lease holds the expiry rule shared by the backends. Timestamps are whole
// unix seconds; a record is expired when now-last_seen exceeds the timeout.
type lease struct {
	timeoutSec int64
}

func newLease(timeout time.Duration) lease {
	return lease{timeoutSec: int64(timeout / time.Second)}
}

func (l lease) expired(lastSeen int64, now time.Time) bool {
	return now.Unix()-lastSeen > l.timeoutSec
}

func record(username string, lastSeen int64) models.SessionRecord {
	return models.SessionRecord{Username: username, LastSeen: time.Unix(lastSeen, 0).UTC()}
}
