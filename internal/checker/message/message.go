// Package message fires MessageWatch watchers when inbound chat messages
// contain their keyword.
package message

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kavymi/meepo-sub001/internal/buffer"
	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	TriggerKind        = "message_matched"
	defaultHistorySize = 1000
)

type Options struct {
	// HistorySize bounds the messages kept for watchers that have not
	// checked yet.
	HistorySize int
	Logger      *logging.Logger
}

type Payload struct {
	Keyword  string               `json:"keyword"`
	Messages []event.MessageEvent `json:"messages"`
}

type entry struct {
	seq     uint64
	message event.MessageEvent
}

// Checker keeps a bounded inbox of recent messages and a cursor per
// watcher. A watcher only sees messages received at or after its creation.
type Checker struct {
	mu      sync.Mutex
	inbox   *buffer.Ring[entry]
	nextSeq uint64
	cursors map[string]uint64
	logger  *logging.Logger

	cancel func()
	done   chan struct{}
	once   sync.Once
}

// New returns a checker fed by bus. A nil bus leaves Deliver as the only
// input.
func New(bus *event.Bus[event.MessageEvent], options Options) *Checker {
	size := options.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	c := &Checker{
		inbox:   buffer.NewRing[entry](size),
		cursors: make(map[string]uint64),
		logger:  options.Logger,
		cancel:  func() {},
		done:    make(chan struct{}),
	}
	if bus == nil {
		close(c.done)
		return c
	}
	ch, cancel := bus.SubscribeTypes(event.MessageReceived)
	c.cancel = cancel
	go func() {
		defer close(c.done)
		for message := range ch {
			c.Deliver(message)
		}
	}()
	return c
}

// Deliver appends message to the inbox.
func (c *Checker) Deliver(message event.MessageEvent) {
	c.mu.Lock()
	c.nextSeq++
	c.inbox.Add(entry{seq: c.nextSeq, message: message})
	c.mu.Unlock()
	c.logger.Debug("message received", map[string]string{
		"channel": message.Channel,
		"sender":  message.Sender,
	})
}

func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, ok := w.Kind.(watcher.MessageWatch)
	if !ok {
		return nil, fmt.Errorf("message checker cannot evaluate %s", w.KindType())
	}
	keyword := strings.ToLower(strings.TrimSpace(kind.Keyword))

	c.mu.Lock()
	defer c.mu.Unlock()
	cursor := c.cursors[w.ID]
	var matched []event.MessageEvent
	for _, item := range c.inbox.List() {
		if item.seq <= cursor {
			continue
		}
		cursor = item.seq
		if item.message.OccurredAt.Before(w.CreatedAt) {
			continue
		}
		if keyword != "" && strings.Contains(strings.ToLower(item.message.Text), keyword) {
			matched = append(matched, item.message)
		}
	}
	c.cursors[w.ID] = cursor
	if len(matched) == 0 {
		return nil, nil
	}
	return checker.Fire(TriggerKind, Payload{Keyword: kind.Keyword, Messages: matched}), nil
}

func (c *Checker) Forget(watcherID string) {
	c.mu.Lock()
	delete(c.cursors, watcherID)
	c.mu.Unlock()
}

// Close unsubscribes from the bus and waits for the reader to exit.
func (c *Checker) Close() error {
	c.once.Do(c.cancel)
	<-c.done
	return nil
}
