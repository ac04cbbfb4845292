package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pario-ai/tutor/pkg/models"
)

var (
	usageBucket  = []byte("usage")
	eventsBucket = []byte("usage_events")
)

// BoltLedger stores key -> JSON totals in one bucket and the events in a
// second bucket keyed by key, a NUL separator, the event time and a sequence
// number so that a prefix scan from a time is ordered.
type BoltLedger struct {
	db         *bolt.DB
	pricePer1K float64
}

// NewBolt creates the usage buckets if needed.
func NewBolt(db *bolt.DB, pricePer1K float64) (*BoltLedger, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(usageBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create usage buckets: %w", err)
	}
	return &BoltLedger{db: db, pricePer1K: pricePer1K}, nil
}

// Record adds the counts to key.
func (l *BoltLedger) Record(_ context.Context, key string, promptTokens, completionTokens int, at time.Time) (models.UsageRecord, error) {
	if err := validate(key, promptTokens, completionTokens); err != nil {
		return models.UsageRecord{}, err
	}

	var rec models.UsageRecord
	err := l.db.Update(func(tx *bolt.Tx) error {
		usage := tx.Bucket(usageBucket)
		cur, err := l.decode(key, usage.Get([]byte(key)))
		if err != nil {
			return err
		}
		rec = totals(key,
			cur.PromptTokens+int64(promptTokens),
			cur.CompletionTokens+int64(completionTokens),
			l.pricePer1K, at.UTC().Truncate(time.Second))

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := usage.Put([]byte(key), data); err != nil {
			return err
		}

		events := tx.Bucket(eventsBucket)
		seq, err := events.NextSequence()
		if err != nil {
			return err
		}
		ev, err := json.Marshal(models.UsageEvent{
			Key:              key,
			PromptTokens:     int64(promptTokens),
			CompletionTokens: int64(completionTokens),
			CreatedAt:        at.UTC(),
		})
		if err != nil {
			return err
		}
		return events.Put(eventKey(key, at.Unix(), seq), ev)
	})
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("record usage: %w", err)
	}
	return rec, nil
}

// Read returns the totals of key.
func (l *BoltLedger) Read(_ context.Context, key string) (models.UsageRecord, error) {
	var rec models.UsageRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = l.decode(key, tx.Bucket(usageBucket).Get([]byte(key)))
		return err
	})
	return rec, err
}

// ListKeys returns all keys with recorded usage.
func (l *BoltLedger) ListKeys(_ context.Context) ([]string, error) {
	var keys []string
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(usageBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// List returns the totals of every key.
func (l *BoltLedger) List(_ context.Context) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(usageBucket).ForEach(func(k, v []byte) error {
			rec, err := l.decode(string(k), v)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// TotalSince sums the events of key at or after since.
func (l *BoltLedger) TotalSince(_ context.Context, key string, since time.Time) (int64, error) {
	prefix := append([]byte(key), 0)
	var total int64
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Seek(eventKey(key, since.Unix(), 0)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ev models.UsageEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decode usage event: %w", err)
			}
			total += ev.PromptTokens + ev.CompletionTokens
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// decode parses stored totals and recomputes total and cost from the counts.
func (l *BoltLedger) decode(key string, v []byte) (models.UsageRecord, error) {
	if v == nil {
		return models.UsageRecord{Key: key}, nil
	}
	var stored models.UsageRecord
	if err := json.Unmarshal(v, &stored); err != nil {
		return models.UsageRecord{}, fmt.Errorf("decode usage %q: %w", key, err)
	}
	return totals(key, stored.PromptTokens, stored.CompletionTokens, l.pricePer1K, stored.UpdatedAt), nil
}

func eventKey(key string, unix int64, seq uint64) []byte {
	k := make([]byte, 0, len(key)+17)
	k = append(k, key...)
	k = append(k, 0)
	k = binary.BigEndian.AppendUint64(k, uint64(unix))
	k = binary.BigEndian.AppendUint64(k, seq)
	return k
}
