package registry

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	_ "modernc.org/sqlite"
)

const timeout = 60 * time.Second

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) Registry {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	r, err := NewSQLite(db, timeout)
	require.NoError(t, err)
	return r
}

func newBolt(t *testing.T) Registry {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "registry.bolt"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	r, err := NewBolt(db, timeout)
	require.NoError(t, err)
	return r
}

// forEachBackend runs fn against every Registry implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, r Registry)) {
	for name, open := range map[string]func(*testing.T) Registry{
		"sqlite": newSQLite,
		"bolt":   newBolt,
	} {
		t.Run(name, func(t *testing.T) { fn(t, open(t)) })
	}
}

func TestLoginTwiceIsRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Login(ctx, "alice", t0))
		assert.ErrorIs(t, r.Login(ctx, "alice", t0.Add(time.Second)), ErrAlreadyActive)

		// Another user is unaffected.
		assert.NoError(t, r.Login(ctx, "bob", t0))
	})
}

func TestLoginAfterTimeoutSucceeds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Login(ctx, "alice", t0))

		// Exactly at the timeout the lease still holds.
		assert.ErrorIs(t, r.Login(ctx, "alice", t0.Add(timeout)), ErrAlreadyActive)

		later := t0.Add(timeout + time.Second)
		_, err := r.CleanExpired(ctx, later)
		require.NoError(t, err)
		require.NoError(t, r.Login(ctx, "alice", later))

		sessions, err := r.List(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, later.Unix(), sessions[0].LastSeen.Unix())
	})
}

func TestLoginReplacesExpiredWithoutClean(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Login(ctx, "alice", t0))
		assert.NoError(t, r.Login(ctx, "alice", t0.Add(timeout+time.Second)))
	})
}

func TestCleanExpiredRemovesExactlyExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Login(ctx, "old", t0))
		require.NoError(t, r.Login(ctx, "edge", t0.Add(10*time.Second)))
		require.NoError(t, r.Login(ctx, "fresh", t0.Add(50*time.Second)))

		now := t0.Add(70 * time.Second) // old idle 70s, edge idle 60s, fresh idle 20s
		survivors, err := r.CleanExpired(ctx, now)
		require.NoError(t, err)

		var names []string
		for _, s := range survivors {
			names = append(names, s.Username)
		}
		assert.ElementsMatch(t, []string{"edge", "fresh"}, names)

		all, err := r.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		active, err := r.IsActive(ctx, "old", now)
		require.NoError(t, err)
		assert.False(t, active)
	})
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Login(ctx, "alice", t0))
		require.NoError(t, r.Touch(ctx, "alice", t0.Add(50*time.Second)))

		now := t0.Add(100 * time.Second)
		active, err := r.IsActive(ctx, "alice", now)
		require.NoError(t, err)
		assert.True(t, active, "touch should have refreshed the lease")
		assert.ErrorIs(t, r.Login(ctx, "alice", now), ErrAlreadyActive)
	})
}

func TestTouchMissingOrExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		assert.ErrorIs(t, r.Touch(ctx, "ghost", t0), ErrNotActive)

		require.NoError(t, r.Login(ctx, "alice", t0))
		assert.ErrorIs(t, r.Touch(ctx, "alice", t0.Add(2*timeout)), ErrNotActive)

		all, err := r.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all, "expired record should be removed by touch")
	})
}

func TestLogoutIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Login(ctx, "alice", t0))
		require.NoError(t, r.Logout(ctx, "alice"))
		require.NoError(t, r.Logout(ctx, "alice"))
		require.NoError(t, r.Logout(ctx, "never-logged-in"))

		active, err := r.IsActive(ctx, "alice", t0)
		require.NoError(t, err)
		assert.False(t, active)
		assert.NoError(t, r.Login(ctx, "alice", t0.Add(time.Second)))
	})
}

func TestConcurrentLoginsAdmitOne(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		const n = 16

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			ok, busy int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := r.Login(ctx, "alice", t0)
				mu.Lock()
				defer mu.Unlock()
				switch err {
				case nil:
					ok++
				case ErrAlreadyActive:
					busy++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, busy)
	})
}
