package file

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

type debounceEntry struct {
	timer *time.Timer
	event fsnotify.Event
}

// debouncer coalesces bursts of events on one path into the last event.
// Callers serialize access with the checker mutex.
type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

// schedule reports whether an earlier pending event was superseded.
func (debouncer *debouncer) schedule(event fsnotify.Event, flush func(string)) bool {
	if debouncer == nil || debouncer.entries == nil {
		return false
	}
	path := event.Name
	entry := debouncer.entries[path]
	superseded := entry.timer != nil
	if superseded {
		event.Op |= entry.event.Op
	}
	entry.event = event
	if entry.timer == nil {
		entry.timer = time.AfterFunc(debouncer.duration, func() {
			flush(path)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[path] = entry
	return superseded
}

func (debouncer *debouncer) pop(path string) (fsnotify.Event, bool) {
	if debouncer == nil || debouncer.entries == nil {
		return fsnotify.Event{}, false
	}
	entry, ok := debouncer.entries[path]
	if !ok {
		return fsnotify.Event{}, false
	}
	delete(debouncer.entries, path)
	return entry.event, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}
