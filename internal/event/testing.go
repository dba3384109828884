package event

import (
	"sync"
	"testing"
	"time"
)

// Collector drains a subscription into memory until cancelled.
type Collector[T any] struct {
	mu     sync.Mutex
	events []T
	done   chan struct{}
	cancel func()
}

// Collect subscribes to bus and stores every delivered value.
func Collect[T any](bus *Bus[T]) *Collector[T] {
	ch, cancel := bus.Subscribe()
	collector := &Collector[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(collector.done)
		for value := range ch {
			collector.mu.Lock()
			collector.events = append(collector.events, value)
			collector.mu.Unlock()
		}
	}()
	return collector
}

func (collector *Collector[T]) Events() []T {
	if collector == nil {
		return nil
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	events := make([]T, len(collector.events))
	copy(events, collector.events)
	return events
}

// Stop unsubscribes and waits for the drain goroutine to finish.
func (collector *Collector[T]) Stop() {
	if collector == nil {
		return
	}
	collector.cancel()
	<-collector.done
}

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	var zero T
	return zero
}
