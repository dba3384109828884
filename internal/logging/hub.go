package logging

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 100

type hubSubscriber struct {
	ch       chan LogEntry
	minLevel Level
}

// LogHub fans entries out to live subscribers, each with its own level
// floor. A subscriber that falls behind misses entries; Dropped counts them.
type LogHub struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]hubSubscriber
	closed  bool
	dropped atomic.Int64
}

func NewLogHub() *LogHub {
	return &LogHub{subs: make(map[uint64]hubSubscriber)}
}

// Subscribe returns entries at or above minLevel. An empty level receives
// everything.
func (h *LogHub) Subscribe(buffer int, minLevel Level) (<-chan LogEntry, func()) {
	if h == nil {
		ch := make(chan LogEntry)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan LogEntry)
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	sub := hubSubscriber{ch: make(chan LogEntry, buffer), minLevel: minLevel}
	h.subs[id] = sub
	return sub.ch, func() { h.unsubscribe(id) }
}

func (h *LogHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Broadcast holds the lock while sending so an unsubscribe cannot close a
// channel mid-send.
func (h *LogHub) Broadcast(entry LogEntry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !entry.Level.AtLeast(sub.minLevel) {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *LogHub) SubscriberCount() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped is the number of entries skipped for slow subscribers.
func (h *LogHub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

func (h *LogHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
