// Package store persists watcher records. Implementations are safe for
// concurrent use and every operation is atomic for a single watcher id.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

type Store interface {
	// InitSchema creates the backing structure if absent. Safe to repeat.
	InitSchema(ctx context.Context) error
	// Save upserts by id.
	Save(ctx context.Context, w watcher.Watcher) error
	// GetByID returns nil, nil when no watcher has id.
	GetByID(ctx context.Context, id string) (*watcher.Watcher, error)
	// GetActive returns active watchers ordered by created_at, oldest first.
	GetActive(ctx context.Context) ([]watcher.Watcher, error)
	// List returns every watcher in the same order as GetActive.
	List(ctx context.Context) ([]watcher.Watcher, error)
	// SetActive flips the active flag. Absent ids are a no-op.
	SetActive(ctx context.Context, id string, active bool) error
	// Deactivate is SetActive(id, false). Idempotent.
	Deactivate(ctx context.Context, id string) error
	// Delete removes the record. Idempotent.
	Delete(ctx context.Context, id string) error
	Close() error
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Options selects and configures a Store implementation.
type Options struct {
	Driver string
	Path   string
	SQLite SQLiteOptions
}

// Open builds the configured store and initializes its schema.
func Open(ctx context.Context, options Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case "", DriverSQLite:
		st, err = OpenSQLite(options.Path, options.SQLite)
	case DriverMemory:
		st = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", options.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func sortByCreation(watchers []watcher.Watcher) {
	sort.SliceStable(watchers, func(i, j int) bool {
		if watchers[i].CreatedAt.Equal(watchers[j].CreatedAt) {
			return watchers[i].ID < watchers[j].ID
		}
		return watchers[i].CreatedAt.Before(watchers[j].CreatedAt)
	})
}

func persistenceError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &watcher.PersistenceError{Op: op, ID: id, Err: err}
}
