package registry

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pario-ai/tutor/pkg/models"
)

var sessionsBucket = []byte("sessions")

// BoltRegistry stores username -> last_seen (8-byte big-endian unix
// seconds) in a bbolt bucket.
type BoltRegistry struct {
	db    *bolt.DB
	lease lease
}

// NewBolt creates the sessions bucket if needed.
func NewBolt(db *bolt.DB, timeout time.Duration) (*BoltRegistry, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	return &BoltRegistry{db: db, lease: newLease(timeout)}, nil
}

// CleanExpired deletes expired entries and returns the survivors.
func (r *BoltRegistry) CleanExpired(_ context.Context, now time.Time) ([]models.SessionRecord, error) {
	var survivors []models.SessionRecord
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			lastSeen := decodeSeconds(v)
			if r.lease.expired(lastSeen, now) {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			survivors = append(survivors, record(string(k), lastSeen))
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clean sessions: %w", err)
	}
	return survivors, nil
}

// IsActive reports whether a non-expired entry exists for username.
func (r *BoltRegistry) IsActive(_ context.Context, username string, now time.Time) (bool, error) {
	var active bool
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(username))
		active = v != nil && !r.lease.expired(decodeSeconds(v), now)
		return nil
	})
	return active, err
}

// Login stores now for username unless a live entry exists.
func (r *BoltRegistry) Login(_ context.Context, username string, now time.Time) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if v := b.Get([]byte(username)); v != nil && !r.lease.expired(decodeSeconds(v), now) {
			return ErrAlreadyActive
		}
		return b.Put([]byte(username), encodeSeconds(now.Unix()))
	})
}

// Touch refreshes the entry of username, removing it if it already expired.
func (r *BoltRegistry) Touch(_ context.Context, username string, now time.Time) error {
	var expired bool
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		v := b.Get([]byte(username))
		if v == nil {
			return ErrNotActive
		}
		if r.lease.expired(decodeSeconds(v), now) {
			expired = true
			return b.Delete([]byte(username))
		}
		return b.Put([]byte(username), encodeSeconds(now.Unix()))
	})
	if err != nil {
		return err
	}
	if expired {
		return ErrNotActive
	}
	return nil
}

// Logout deletes the entry of username if any.
func (r *BoltRegistry) Logout(_ context.Context, username string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(username))
	})
}

// List returns all entries in key order.
func (r *BoltRegistry) List(_ context.Context) ([]models.SessionRecord, error) {
	var sessions []models.SessionRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			sessions = append(sessions, record(string(k), decodeSeconds(v)))
			return nil
		})
	})
	return sessions, err
}

func encodeSeconds(sec int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(sec))
	return buf
}

func decodeSeconds(v []byte) int64 {
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}
