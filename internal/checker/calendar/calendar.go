// Package calendar fires CalendarWatch watchers for events starting inside
// their lookahead window.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	TriggerKind         = "calendar_event"
	defaultNotifiedSize = 4096
)

var ErrNoSource = errors.New("calendar source not configured")

type Entry struct {
	ID       string    `json:"id" yaml:"id"`
	Title    string    `json:"title" yaml:"title"`
	Start    time.Time `json:"start" yaml:"start"`
	End      time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	Location string    `json:"location,omitempty" yaml:"location,omitempty"`
}

type Payload struct {
	WindowEnd time.Time `json:"window_end"`
	Events    []Entry   `json:"events"`
}

// Source lists the calendar entries starting in [from, to).
type Source interface {
	Events(ctx context.Context, from, to time.Time) ([]Entry, error)
}

type Options struct {
	Source       Source
	NotifiedSize int
}

// Checker reports each upcoming entry once per watcher.
type Checker struct {
	source   Source
	mu       sync.Mutex
	notified *lru.Cache[string, struct{}]
	now      func() time.Time
}

func New(options Options) (*Checker, error) {
	size := options.NotifiedSize
	if size <= 0 {
		size = defaultNotifiedSize
	}
	notified, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Checker{source: options.Source, notified: notified, now: time.Now}, nil
}

func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	kind, ok := w.Kind.(watcher.CalendarWatch)
	if !ok {
		return nil, fmt.Errorf("calendar checker cannot evaluate %s", w.KindType())
	}
	if c.source == nil {
		return nil, ErrNoSource
	}
	from := c.now().UTC()
	to := from.Add(time.Duration(kind.LookaheadHours) * time.Hour)
	entries, err := c.source.Events(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var upcoming []Entry
	for _, entry := range entries {
		if entry.Start.Before(from) || !entry.Start.Before(to) {
			continue
		}
		key := fmt.Sprintf("%s/%s/%d", w.ID, entry.ID, entry.Start.Unix())
		if c.notified.Contains(key) {
			continue
		}
		c.notified.Add(key, struct{}{})
		upcoming = append(upcoming, entry)
	}
	if len(upcoming) == 0 {
		return nil, nil
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].Start.Before(upcoming[j].Start)
	})
	return checker.Fire(TriggerKind, Payload{WindowEnd: to, Events: upcoming}), nil
}

func (c *Checker) Forget(watcherID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := watcherID + "/"
	for _, key := range c.notified.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.notified.Remove(key)
		}
	}
}

// File is a Source backed by a YAML document with an events list. It is
// re-read on every call.
type File struct {
	Path string
}

type fileDocument struct {
	Events []Entry `yaml:"events"`
}

func (f File) Events(ctx context.Context, from, to time.Time) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var document fileDocument
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	var entries []Entry
	for _, entry := range document.Events {
		if entry.Start.IsZero() {
			continue
		}
		if entry.ID == "" {
			entry.ID = entry.Title
		}
		if !entry.Start.Before(from) && entry.Start.Before(to) {
			entry.Start = entry.Start.UTC()
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
