package checker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

// Registry maps a watcher kind discriminant to its Checker.
type Registry struct {
	mu       sync.RWMutex
	checkers map[watcher.KindType]Checker
}

func NewRegistry() *Registry {
	return &Registry{checkers: make(map[watcher.KindType]Checker)}
}

// Register installs checker for kindType. Registering a kind twice is an error.
func (r *Registry) Register(kindType watcher.KindType, checker Checker) error {
	if checker == nil {
		return fmt.Errorf("checker for %s is nil", kindType)
	}
	if !watcher.IsRegistered(kindType) {
		return fmt.Errorf("unknown watcher kind %q", kindType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checkers[kindType]; exists {
		return fmt.Errorf("checker for %s already registered", kindType)
	}
	r.checkers[kindType] = checker
	return nil
}

// MustRegister panics on registration errors. Intended for wiring at startup.
func (r *Registry) MustRegister(kindType watcher.KindType, checker Checker) {
	if err := r.Register(kindType, checker); err != nil {
		panic(err)
	}
}

// Replace installs checker for kindType, overriding any previous one.
func (r *Registry) Replace(kindType watcher.KindType, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[kindType] = checker
}

// Lookup returns ErrNoChecker wrapped with the kind when nothing is registered.
func (r *Registry) Lookup(kindType watcher.KindType) (Checker, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoChecker, kindType)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	checker, ok := r.checkers[kindType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoChecker, kindType)
	}
	return checker, nil
}

func (r *Registry) Kinds() []watcher.KindType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]watcher.KindType, 0, len(r.checkers))
	for kindType := range r.checkers {
		kinds = append(kinds, kindType)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Forget tells every stateful checker that watcherID is no longer scheduled.
func (r *Registry) Forget(watcherID string) {
	for _, checker := range r.snapshot() {
		if forgetter, ok := checker.(Forgetter); ok {
			forgetter.Forget(watcherID)
		}
	}
}

// Close closes every checker implementing Closer and joins their errors.
func (r *Registry) Close() error {
	var err error
	for _, checker := range r.snapshot() {
		if closer, ok := checker.(Closer); ok {
			err = errors.Join(err, closer.Close())
		}
	}
	return err
}

// snapshot may contain the same checker more than once when it serves
// several kinds; Forget and Close implementations are idempotent.
func (r *Registry) snapshot() []Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		out = append(out, checker)
	}
	return out
}
