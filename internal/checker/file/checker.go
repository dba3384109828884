// Package file fires FileWatch watchers on filesystem changes observed with
// fsnotify. Changes are collected between checks and reported on the next
// scheduled check.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	TriggerKind       = "file_changed"
	defaultDebounce   = 100 * time.Millisecond
	defaultMaxWatches = 1024
	defaultMaxPending = 256
)

var (
	ErrClosed             = errors.New("file checker closed")
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
)

type Options struct {
	Logger     *logging.Logger
	Debounce   time.Duration
	MaxWatches int
	// MaxPending bounds the changes remembered per watcher between checks.
	MaxPending int
}

type Change struct {
	Path string    `json:"path"`
	Op   string    `json:"op"`
	At   time.Time `json:"at"`
}

type Payload struct {
	Root    string   `json:"root"`
	Changes []Change `json:"changes"`
	Dropped int      `json:"dropped,omitempty"`
}

type registration struct {
	root      string
	recursive bool
	matcher   glob.Glob
	dirs      []string
	pending   map[string]Change
	dropped   int
	rootGone  bool
}

type Checker struct {
	mutex         sync.Mutex
	fs            *fsnotify.Watcher
	registrations map[string]*registration
	refs          map[string]int
	debouncer     *debouncer
	logger        *logging.Logger
	maxWatches    int
	maxPending    int
	done          chan struct{}
	closed        bool
	eventsDropped atomic.Uint64
	watchErrors   atomic.Uint64
}

func New(options Options) (*Checker, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}
	maxPending := options.MaxPending
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	instance := &Checker{
		fs:            fsWatcher,
		registrations: make(map[string]*registration),
		refs:          make(map[string]int),
		debouncer:     newDebouncer(debounce),
		logger:        options.Logger,
		maxWatches:    maxWatches,
		maxPending:    maxPending,
		done:          make(chan struct{}),
	}
	go instance.run()
	return instance, nil
}

// Check registers the watch on first use and reports nothing for that
// cycle. Later checks report changes collected since the previous check.
func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, ok := w.Kind.(watcher.FileWatch)
	if !ok {
		return nil, fmt.Errorf("file checker cannot evaluate %s", w.KindType())
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil, ErrClosed
	}
	reg, ok := c.registrations[w.ID]
	c.mutex.Unlock()

	if !ok {
		return nil, c.register(w.ID, kind)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if reg.rootGone {
		c.unregisterLocked(w.ID)
	}
	if len(reg.pending) == 0 {
		return nil, nil
	}
	payload := Payload{Root: reg.root, Dropped: reg.dropped}
	for _, change := range reg.pending {
		payload.Changes = append(payload.Changes, change)
	}
	sort.Slice(payload.Changes, func(i, j int) bool {
		return payload.Changes[i].Path < payload.Changes[j].Path
	})
	reg.pending = make(map[string]Change)
	reg.dropped = 0
	return checker.Fire(TriggerKind, payload), nil
}

// Forget drops the registration for watcherID.
func (c *Checker) Forget(watcherID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.unregisterLocked(watcherID)
}

// WatchErrors counts errors reported by fsnotify. They are not tied to a
// single watch, so no watcher fails because of them.
func (c *Checker) WatchErrors() uint64 {
	return c.watchErrors.Load()
}

// EventsDropped counts events superseded by the debouncer or past MaxPending.
func (c *Checker) EventsDropped() uint64 {
	return c.eventsDropped.Load()
}

func (c *Checker) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	c.debouncer.stop()
	c.mutex.Unlock()

	close(c.done)
	return c.fs.Close()
}

func (c *Checker) register(watcherID string, kind watcher.FileWatch) error {
	root := filepath.Clean(kind.Path)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	reg := &registration{
		root:      root,
		recursive: info.IsDir() && strings.Contains(kind.Pattern, "**"),
		pending:   make(map[string]Change),
	}
	if kind.Pattern != "" {
		matcher, err := glob.Compile(kind.Pattern, '/')
		if err != nil {
			return fmt.Errorf("compile pattern %q: %w", kind.Pattern, err)
		}
		reg.matcher = matcher
	}

	dirs := []string{root}
	if reg.recursive {
		dirs = append(dirs, collectSubdirs(root)...)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, exists := c.registrations[watcherID]; exists {
		return nil
	}
	for _, dir := range dirs {
		if err := c.addPathLocked(dir); err != nil {
			for _, added := range reg.dirs {
				c.removePathLocked(added)
			}
			return err
		}
		reg.dirs = append(reg.dirs, dir)
	}
	c.registrations[watcherID] = reg
	c.logger.Debug("file watch registered", map[string]string{
		"watcher_id": watcherID,
		"path":       root,
		"recursive":  strconv.FormatBool(reg.recursive),
	})
	return nil
}

func (c *Checker) unregisterLocked(watcherID string) {
	reg, ok := c.registrations[watcherID]
	if !ok {
		return
	}
	delete(c.registrations, watcherID)
	for _, dir := range reg.dirs {
		c.removePathLocked(dir)
	}
}

func (c *Checker) addPathLocked(path string) error {
	if c.refs[path] > 0 {
		c.refs[path]++
		return nil
	}
	if len(c.refs) >= c.maxWatches {
		return ErrMaxWatchesExceeded
	}
	if err := c.fs.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	c.refs[path] = 1
	return nil
}

func (c *Checker) removePathLocked(path string) {
	count := c.refs[path]
	if count > 1 {
		c.refs[path] = count - 1
		return
	}
	delete(c.refs, path)
	if c.closed {
		return
	}
	// fsnotify drops watches of removed paths on its own.
	_ = c.fs.Remove(path)
}

func (c *Checker) run() {
	for {
		select {
		case event, ok := <-c.fs.Events:
			if !ok {
				return
			}
			c.handleEvent(event)
		case err, ok := <-c.fs.Errors:
			if !ok {
				return
			}
			c.handleError(err)
		case <-c.done:
			return
		}
	}
}

func (c *Checker) handleEvent(event fsnotify.Event) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	if c.debouncer.schedule(event, c.flush) {
		c.eventsDropped.Add(1)
	}
}

func (c *Checker) handleError(err error) {
	if err == nil {
		return
	}
	c.watchErrors.Add(1)
	c.logger.Warn("file watcher error", map[string]string{
		"error": err.Error(),
		"total": strconv.FormatUint(c.watchErrors.Load(), 10),
	})
}

func (c *Checker) flush(path string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	event, ok := c.debouncer.pop(path)
	if !ok {
		return
	}
	change := Change{Path: event.Name, Op: event.Op.String(), At: time.Now().UTC()}
	for _, reg := range c.registrations {
		if !reg.covers(event.Name) {
			continue
		}
		if reg.recursive && event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := c.addPathLocked(event.Name); err == nil {
					reg.dirs = append(reg.dirs, event.Name)
				}
			}
		}
		if event.Name == reg.root && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
			reg.rootGone = true
		}
		if !reg.matches(event.Name) {
			continue
		}
		if _, seen := reg.pending[event.Name]; !seen && len(reg.pending) >= c.maxPending {
			reg.dropped++
			c.eventsDropped.Add(1)
			continue
		}
		reg.pending[event.Name] = change
	}
}

func (reg *registration) covers(path string) bool {
	if path == reg.root {
		return true
	}
	rel, err := filepath.Rel(reg.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	if reg.recursive {
		return true
	}
	return !strings.Contains(filepath.ToSlash(rel), "/")
}

func (reg *registration) matches(path string) bool {
	if reg.matcher == nil {
		return true
	}
	if path == reg.root {
		return reg.matcher.Match(filepath.Base(path))
	}
	rel, err := filepath.Rel(reg.root, path)
	if err != nil {
		return false
	}
	return reg.matcher.Match(filepath.ToSlash(rel))
}

func collectSubdirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}
