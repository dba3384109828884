// Package sink delivers fired watcher events to the outside world.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

// Sink accepts fired events. Publish is fire-and-forget from the caller's
// point of view: an error is reported but never retried.
type Sink interface {
	Publish(ctx context.Context, event watcher.Event) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, event watcher.Event) error

func (f Func) Publish(ctx context.Context, event watcher.Event) error {
	return f(ctx, event)
}

type MemorySink struct {
	mu     sync.Mutex
	events []watcher.Event
	err    error
	notify chan struct{}
}

func NewMemorySink() *MemorySink {
	return &MemorySink{notify: make(chan struct{}, 1)}
}

func (sink *MemorySink) Publish(_ context.Context, event watcher.Event) error {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.err != nil {
		return sink.err
	}
	sink.events = append(sink.events, event)
	select {
	case sink.notify <- struct{}{}:
	default:
	}
	return nil
}

func (sink *MemorySink) Events() []watcher.Event {
	if sink == nil {
		return nil
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	events := make([]watcher.Event, len(sink.events))
	copy(events, sink.events)
	return events
}

// EventsFor returns the recorded events of one watcher.
func (sink *MemorySink) EventsFor(watcherID string) []watcher.Event {
	var events []watcher.Event
	for _, event := range sink.Events() {
		if event.WatcherID == watcherID {
			events = append(events, event)
		}
	}
	return events
}

// Notify is signalled after each recorded event.
func (sink *MemorySink) Notify() <-chan struct{} {
	return sink.notify
}

// SetError makes subsequent publishes fail with err without recording.
func (sink *MemorySink) SetError(err error) {
	if sink == nil {
		return
	}
	sink.mu.Lock()
	sink.err = err
	sink.mu.Unlock()
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (multi Multi) Publish(ctx context.Context, event watcher.Event) error {
	var errs []error
	for _, sink := range multi {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
