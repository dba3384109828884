// Package checker defines how a watcher's condition is evaluated. One
// Checker is registered per watcher kind.
package checker

import (
	"context"
	"errors"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

var ErrNoChecker = errors.New("no checker registered for watcher kind")

// Trigger is a fired condition. Kind names what happened, for example
// "file_changed"; Payload is forwarded to the sink untouched.
type Trigger struct {
	Kind    string
	Payload any
}

// Checker evaluates a watcher once. It returns nil, nil when the condition
// is not met. Implementations only read the watched resource, are safe to
// call repeatedly and must return promptly once ctx is done.
type Checker interface {
	Check(ctx context.Context, w watcher.Watcher) (*Trigger, error)
}

// Func adapts a plain function to Checker.
type Func func(ctx context.Context, w watcher.Watcher) (*Trigger, error)

func (f Func) Check(ctx context.Context, w watcher.Watcher) (*Trigger, error) {
	return f(ctx, w)
}

// Fire is a convenience for building a trigger.
func Fire(kind string, payload any) *Trigger {
	return &Trigger{Kind: kind, Payload: payload}
}

// Closer is implemented by checkers holding resources such as filesystem
// watches or per-watcher state.
type Closer interface {
	Close() error
}

// Forgetter is implemented by checkers keeping per-watcher state that should
// be dropped when a watcher stops being scheduled.
type Forgetter interface {
	Forget(watcherID string)
}
