// Package store opens the storage backend shared by the session registry
// and the usage ledger.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/tutor/pkg/config"
	"github.com/pario-ai/tutor/pkg/ledger"
	"github.com/pario-ai/tutor/pkg/registry"
)

// Store bundles the registry and ledger of one backend.
type Store struct {
	Driver   string
	Registry registry.Registry
	Ledger   ledger.Ledger

	closer func() error
}

// Open opens the backend named by cfg.Driver.
// A bolt file is locked by the process holding it, so CLI commands cannot
// open it while the server runs; sqlite has no such restriction.
func Open(cfg config.StorageConfig, sessionTimeout time.Duration, pricePer1K float64) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	switch cfg.Driver {
	case "", "sqlite":
		return openSQLite(cfg.Path, sessionTimeout, pricePer1K)
	case "bolt":
		return openBolt(cfg.Path, sessionTimeout, pricePer1K)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.closer()
}

func openSQLite(path string, sessionTimeout time.Duration, pricePer1K float64) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection serialises every transaction in this process.
	db.SetMaxOpenConns(1)

	reg, err := registry.NewSQLite(db, sessionTimeout)
	if err != nil {
		db.Close()
		return nil, err
	}
	led, err := ledger.NewSQLite(db, pricePer1K)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Driver: "sqlite", Registry: reg, Ledger: led, closer: db.Close}, nil
}

func openBolt(path string, sessionTimeout time.Duration, pricePer1K float64) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	reg, err := registry.NewBolt(db, sessionTimeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	led, err := ledger.NewBolt(db, pricePer1K)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Driver: "bolt", Registry: reg, Ledger: led, closer: db.Close}, nil
}
