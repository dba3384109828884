package store

import (
	"context"
	"errors"
	"sync"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

var errClosed = errors.New("store closed")

// MemoryStore keeps watchers in a map. It backs tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	watchers map[string]watcher.Watcher
	closed   bool
	failure  map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		watchers: make(map[string]watcher.Watcher),
		failure:  make(map[string]error),
	}
}

// FailOn makes the named operation ("save", "get_active", "deactivate",
// "delete", ...) return err until cleared with a nil err.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failure, op)
		return
	}
	s.failure[op] = err
}

func (s *MemoryStore) InitSchema(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkLocked("init_schema", "")
}

func (s *MemoryStore) Save(ctx context.Context, w watcher.Watcher) error {
	if err := ctx.Err(); err != nil {
		return persistenceError("save", w.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("save", w.ID); err != nil {
		return err
	}
	s.watchers[w.ID] = w
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*watcher.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLocked("get_by_id", id); err != nil {
		return nil, err
	}
	w, ok := s.watchers[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *MemoryStore) GetActive(context.Context) ([]watcher.Watcher, error) {
	return s.collect("get_active", true)
}

func (s *MemoryStore) List(context.Context) ([]watcher.Watcher, error) {
	return s.collect("list", false)
}

func (s *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := "activate"
	if !active {
		op = "deactivate"
	}
	if err := s.checkLocked(op, id); err != nil {
		return err
	}
	w, ok := s.watchers[id]
	if !ok {
		return nil
	}
	w.Active = active
	s.watchers[id] = w
	return nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, id string) error {
	return s.SetActive(ctx, id, false)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("delete", id); err != nil {
		return err
	}
	delete(s.watchers, id)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) collect(op string, activeOnly bool) ([]watcher.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLocked(op, ""); err != nil {
		return nil, err
	}
	out := make([]watcher.Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		if activeOnly && !w.Active {
			continue
		}
		out = append(out, w)
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) checkLocked(op, id string) error {
	if s.closed {
		return persistenceError(op, id, errClosed)
	}
	if err, ok := s.failure[op]; ok {
		return persistenceError(op, id, err)
	}
	return nil
}
