// Package mail fires EmailWatch watchers on new messages from a pluggable
// mailbox source.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	TriggerKind     = "email_received"
	defaultSeenSize = 4096
)

var ErrNoSource = errors.New("mail source not configured")

type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

type Payload struct {
	Messages []Message `json:"messages"`
}

// Source lists the messages currently in a mailbox.
type Source interface {
	Messages(ctx context.Context) ([]Message, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Message, error)

func (f SourceFunc) Messages(ctx context.Context) ([]Message, error) {
	return f(ctx)
}

type Options struct {
	Source   Source
	SeenSize int
}

// Checker fires for messages not seen before by the same watcher. The first
// check of a watcher only records what is already in the mailbox.
type Checker struct {
	source   Source
	mu       sync.Mutex
	seen     *lru.Cache[string, struct{}]
	baseline map[string]bool
}

func New(options Options) (*Checker, error) {
	size := options.SeenSize
	if size <= 0 {
		size = defaultSeenSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Checker{source: options.Source, seen: seen, baseline: make(map[string]bool)}, nil
}

func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	kind, ok := w.Kind.(watcher.EmailWatch)
	if !ok {
		return nil, fmt.Errorf("mail checker cannot evaluate %s", w.KindType())
	}
	if c.source == nil {
		return nil, ErrNoSource
	}
	messages, err := c.source.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var fresh []Message
	for _, message := range messages {
		if !Matches(kind, message) {
			continue
		}
		key := w.ID + "/" + message.ID
		if c.seen.Contains(key) {
			continue
		}
		c.seen.Add(key, struct{}{})
		fresh = append(fresh, message)
	}
	if !c.baseline[w.ID] {
		c.baseline[w.ID] = true
		return nil, nil
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	return checker.Fire(TriggerKind, Payload{Messages: fresh}), nil
}

func (c *Checker) Forget(watcherID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.baseline, watcherID)
	prefix := watcherID + "/"
	for _, key := range c.seen.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.seen.Remove(key)
		}
	}
}

// Matches applies the sender and subject filters, both case-insensitive.
func Matches(kind watcher.EmailWatch, message Message) bool {
	if kind.From != "" && !strings.Contains(strings.ToLower(message.From), strings.ToLower(kind.From)) {
		return false
	}
	if kind.SubjectContains != "" && !strings.Contains(strings.ToLower(message.Subject), strings.ToLower(kind.SubjectContains)) {
		return false
	}
	return true
}
