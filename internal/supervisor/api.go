package supervisor

import (
	"context"
	"fmt"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

// AddWatcher creates an active watcher for kind and schedules it.
func (s *Supervisor) AddWatcher(ctx context.Context, kind watcher.Kind, action, replyChannel string) (string, error) {
	w, err := watcher.New(kind, action, replyChannel)
	if err != nil {
		return "", err
	}
	if err := s.Add(ctx, w); err != nil {
		return "", err
	}
	return w.ID, nil
}

// ListWatchers returns every stored watcher, active or not, oldest first.
func (s *Supervisor) ListWatchers(ctx context.Context) ([]watcher.Watcher, error) {
	return s.store.List(ctx)
}

func (s *Supervisor) RemoveWatcher(ctx context.Context, id string) error {
	return s.Remove(ctx, id)
}

func (s *Supervisor) PauseWatcher(ctx context.Context, id string) error {
	return s.Pause(ctx, id)
}

// Get returns the stored watcher or watcher.ErrNotFound.
func (s *Supervisor) Get(ctx context.Context, id string) (watcher.Watcher, error) {
	stored, err := s.store.GetByID(ctx, id)
	if err != nil {
		return watcher.Watcher{}, err
	}
	if stored == nil {
		return watcher.Watcher{}, fmt.Errorf("%w: %s", watcher.ErrNotFound, id)
	}
	return *stored, nil
}

// Kinds lists the watcher kinds that have a checker registered.
func (s *Supervisor) Kinds() []watcher.KindType {
	return s.checkers.Kinds()
}
