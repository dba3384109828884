// Package supervisor schedules active watchers. A single coordinator
// goroutine owns the set of running loops; every external request is a
// command it executes in order, and each watcher runs in its own loop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/kavymi/meepo-sub001/internal/backoff"
	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/metrics"
	"github.com/kavymi/meepo-sub001/internal/otel"
	"github.com/kavymi/meepo-sub001/internal/sink"
	"github.com/kavymi/meepo-sub001/internal/store"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const (
	DefaultCheckTimeout   = 30 * time.Second
	DefaultPublishTimeout = 10 * time.Second
	DefaultDrainTimeout   = 5 * time.Second
	defaultCommandBuffer  = 64
)

var (
	ErrStopped        = errors.New("supervisor stopped")
	ErrAlreadyStarted = errors.New("supervisor already started")
	ErrDrainTimeout   = errors.New("watcher loops did not stop in time")
)

type Options struct {
	CheckTimeout   time.Duration
	PublishTimeout time.Duration
	DrainTimeout   time.Duration
	Backoff        backoff.Policy
	CommandBuffer  int

	Logger      *logging.Logger
	Metrics     *metrics.Registry
	Lifecycle   *event.Bus[event.LifecycleEvent]
	Instruments *otel.SchedulerInstruments
	// Clock stamps fired events and status snapshots.
	Clock func() time.Time
}

type command struct {
	run   func()
	final bool
}

type loopExit struct {
	id         string
	generation uint64
}

type Supervisor struct {
	store    store.Store
	checkers *checker.Registry
	sink     sink.Sink
	options  Options
	logger   *logging.Logger
	metrics  *metrics.Registry

	commands chan command
	exits    chan loopExit
	done     chan struct{}
	started  atomic.Bool

	root       context.Context
	rootCancel context.CancelFunc

	// owned by the coordinator goroutine
	loops      map[string]*loopHandle
	generation uint64

	intervalOf func(watcher.Watcher) time.Duration
}

// New starts the coordinator. Start loads persisted watchers; Add and the
// other operations work before Start as well.
func New(st store.Store, checkers *checker.Registry, out sink.Sink, options Options) *Supervisor {
	if options.CheckTimeout <= 0 {
		options.CheckTimeout = DefaultCheckTimeout
	}
	if options.PublishTimeout <= 0 {
		options.PublishTimeout = DefaultPublishTimeout
	}
	if options.DrainTimeout <= 0 {
		options.DrainTimeout = DefaultDrainTimeout
	}
	if options.CommandBuffer <= 0 {
		options.CommandBuffer = defaultCommandBuffer
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	options.Backoff = options.Backoff.Normalize()
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	if checkers == nil {
		checkers = checker.NewRegistry()
	}

	root, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		store:      st,
		checkers:   checkers,
		sink:       out,
		options:    options,
		logger:     options.Logger,
		metrics:    options.Metrics,
		commands:   make(chan command, options.CommandBuffer),
		exits:      make(chan loopExit, options.CommandBuffer),
		done:       make(chan struct{}),
		root:       root,
		rootCancel: cancel,
		loops:      make(map[string]*loopHandle),
		intervalOf: watcher.Watcher.Interval,
	}
	go s.coordinate()
	return s
}

// Start loads every active watcher and schedules it. A store failure is
// returned and nothing is scheduled.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	var loaded, scheduled int
	err := s.do(ctx, func() error {
		active, err := s.store.GetActive(ctx)
		if err != nil {
			return fmt.Errorf("load active watchers: %w", err)
		}
		loaded = len(active)
		for _, w := range active {
			if _, running := s.loops[w.ID]; running {
				continue
			}
			if err := s.spawn(w); err != nil {
				s.logger.Error("watcher not scheduled", map[string]string{
					"watcher_id": w.ID,
					"kind":       string(w.KindType()),
					"error":      err.Error(),
				})
				continue
			}
			scheduled++
		}
		return nil
	})
	if err != nil {
		s.started.Store(false)
		return err
	}
	s.logger.Info("supervisor started", map[string]string{
		"loaded":    strconv.Itoa(loaded),
		"scheduled": strconv.Itoa(scheduled),
	})
	return nil
}

// Add persists w and schedules it when active. An already scheduled id is
// replaced: its loop is stopped before the new definition is written.
func (s *Supervisor) Add(ctx context.Context, w watcher.Watcher) error {
	if err := s.validate(w); err != nil {
		return err
	}
	return s.do(ctx, func() error {
		return s.install(ctx, w)
	})
}

// Replace swaps the definition of an existing watcher, keeping its id and
// creation time, and schedules it active. An unknown id is
// watcher.ErrNotFound and nothing is written.
func (s *Supervisor) Replace(ctx context.Context, id string, definition watcher.Definition) (watcher.Watcher, error) {
	candidate := watcher.Watcher{
		ID:           id,
		Kind:         definition.Kind,
		Action:       definition.Action,
		ReplyChannel: definition.ReplyChannel,
		Active:       true,
	}
	if err := s.validate(candidate); err != nil {
		return watcher.Watcher{}, err
	}
	err := s.do(ctx, func() error {
		stored, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("%w: %s", watcher.ErrNotFound, id)
		}
		candidate.CreatedAt = stored.CreatedAt
		return s.install(ctx, candidate)
	})
	if err != nil {
		return watcher.Watcher{}, err
	}
	return candidate, nil
}

// install writes w and restarts its loop with fresh checker state. Must run
// on the coordinator.
func (s *Supervisor) install(ctx context.Context, w watcher.Watcher) error {
	previous, replaced := s.loops[w.ID]
	if replaced {
		s.stopLoop(previous)
	}
	if err := s.store.Save(ctx, w); err != nil {
		if replaced {
			// keep the old definition running; it is still what is stored
			if spawnErr := s.spawn(previous.watcher); spawnErr != nil {
				s.logger.Error("restore watcher failed", map[string]string{"watcher_id": w.ID, "error": spawnErr.Error()})
			}
		}
		return err
	}
	s.checkers.Forget(w.ID)
	if w.Active {
		if err := s.spawn(w); err != nil {
			return err
		}
	}
	s.emit(event.WatcherAdded, w, "")
	s.logger.Info("watcher added", map[string]string{
		"watcher_id": w.ID,
		"kind":       string(w.KindType()),
		"replaced":   strconv.FormatBool(replaced),
	})
	return nil
}

// Remove stops the watcher's loop if any and deletes it. Idempotent.
func (s *Supervisor) Remove(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		handle, running := s.loops[id]
		if running {
			s.stopLoop(handle)
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		s.checkers.Forget(id)
		if running {
			s.emit(event.WatcherRemoved, handle.watcher, "")
		} else {
			s.options.Lifecycle.Publish(event.NewLifecycleEvent(event.WatcherRemoved, id, ""))
		}
		s.logger.Info("watcher removed", map[string]string{"watcher_id": id})
		return nil
	})
}

// Pause stops the watcher's loop and deactivates it. Pausing an inactive
// watcher is a no-op; an unknown id is watcher.ErrNotFound.
func (s *Supervisor) Pause(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		handle, running := s.loops[id]
		if !running {
			stored, err := s.store.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if stored == nil {
				return fmt.Errorf("%w: %s", watcher.ErrNotFound, id)
			}
			if !stored.Active {
				return nil
			}
		} else {
			s.stopLoop(handle)
		}
		if err := s.store.Deactivate(ctx, id); err != nil {
			return err
		}
		s.checkers.Forget(id)
		s.options.Lifecycle.Publish(event.NewLifecycleEvent(event.WatcherPaused, id, ""))
		s.logger.Info("watcher paused", map[string]string{"watcher_id": id})
		return nil
	})
}

// Resume reactivates a paused watcher with a fresh failure count.
// Resuming a scheduled watcher is a no-op.
func (s *Supervisor) Resume(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if _, running := s.loops[id]; running {
			return nil
		}
		stored, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("%w: %s", watcher.ErrNotFound, id)
		}
		if err := s.validate(*stored); err != nil {
			return err
		}
		if err := s.store.SetActive(ctx, id, true); err != nil {
			return err
		}
		stored.Active = true
		if err := s.spawn(*stored); err != nil {
			return err
		}
		s.emit(event.WatcherResumed, *stored, "")
		s.logger.Info("watcher resumed", map[string]string{"watcher_id": id})
		return nil
	})
}

// Reload re-reads the active set and reconciles the schedule with it.
// Loops whose stored definition changed are restarted.
func (s *Supervisor) Reload(ctx context.Context) error {
	return s.do(ctx, func() error {
		active, err := s.store.GetActive(ctx)
		if err != nil {
			return fmt.Errorf("reload active watchers: %w", err)
		}
		desired := make(map[string]watcher.Watcher, len(active))
		for _, w := range active {
			desired[w.ID] = w
		}
		var started, stopped int
		for id, handle := range s.loops {
			w, keep := desired[id]
			if keep && sameDefinition(handle.watcher, w) {
				delete(desired, id)
				continue
			}
			s.stopLoop(handle)
			s.checkers.Forget(id)
			stopped++
		}
		for _, w := range active {
			if _, pending := desired[w.ID]; !pending {
				continue
			}
			if err := s.spawn(w); err != nil {
				s.logger.Error("watcher not scheduled", map[string]string{"watcher_id": w.ID, "error": err.Error()})
				continue
			}
			started++
		}
		reloaded := event.NewLifecycleEvent(event.WatcherReloaded, "", "")
		reloaded.Reason = fmt.Sprintf("started=%d stopped=%d", started, stopped)
		s.options.Lifecycle.Publish(reloaded)
		s.logger.Info("watchers reloaded", map[string]string{
			"started": strconv.Itoa(started),
			"stopped": strconv.Itoa(stopped),
		})
		return nil
	})
}

// Status returns a snapshot of every scheduled loop, oldest watcher first.
func (s *Supervisor) Status(ctx context.Context) ([]LoopStatus, error) {
	var statuses []LoopStatus
	err := s.do(ctx, func() error {
		statuses = make([]LoopStatus, 0, len(s.loops))
		for _, handle := range s.loops {
			statuses = append(statuses, handle.snapshot())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].CreatedAt.Equal(statuses[j].CreatedAt) {
			return statuses[i].WatcherID < statuses[j].WatcherID
		}
		return statuses[i].CreatedAt.Before(statuses[j].CreatedAt)
	})
	return statuses, nil
}

// Shutdown cancels every loop and waits for them up to DrainTimeout or ctx.
// Later calls return nil.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var drainErr error
	reply := make(chan struct{})
	cmd := command{final: true, run: func() {
		defer close(reply)
		handles := make([]*loopHandle, 0, len(s.loops))
		for _, handle := range s.loops {
			handle.cancel()
			handles = append(handles, handle)
		}
		s.rootCancel()
		if remaining := s.drain(ctx, handles); remaining > 0 {
			drainErr = fmt.Errorf("%w: %d still running", ErrDrainTimeout, remaining)
		}
		s.loops = make(map[string]*loopHandle)
	}}
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
	case <-s.done:
		// another final command ran first
		select {
		case <-reply:
		default:
			return nil
		}
	}
	if drainErr != nil {
		s.logger.Warn("supervisor drain incomplete", map[string]string{"error": drainErr.Error()})
		return drainErr
	}
	s.logger.Info("supervisor stopped", nil)
	return nil
}

// Done is closed once Shutdown has completed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) coordinate() {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.commands:
			cmd.run()
			if cmd.final {
				return
			}
		case exit := <-s.exits:
			handle, ok := s.loops[exit.id]
			if ok && handle.generation == exit.generation {
				delete(s.loops, exit.id)
				s.checkers.Forget(exit.id)
			}
		}
	}
}

// do runs fn on the coordinator and waits for its result.
func (s *Supervisor) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	cmd := command{run: func() { reply <- fn() }}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		// the final command may have been queued ahead of ours
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Supervisor) validate(w watcher.Watcher) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if _, err := s.checkers.Lookup(w.KindType()); err != nil {
		return &watcher.ConfigError{Field: "type", Message: err.Error(), Err: err}
	}
	return nil
}

// spawn must run on the coordinator.
func (s *Supervisor) spawn(w watcher.Watcher) error {
	if s.root.Err() != nil {
		return ErrStopped
	}
	impl, err := s.checkers.Lookup(w.KindType())
	if err != nil {
		return &watcher.ConfigError{Field: "type", Message: err.Error(), Err: err}
	}
	s.generation++
	ctx, cancel := context.WithCancel(s.root)
	handle := &loopHandle{
		watcher:    w,
		generation: s.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
		interval:   s.intervalOf(w),
		status:     newLoopState(w, s.options.Clock()),
	}
	s.loops[w.ID] = handle
	s.metrics.IncLoopStarted()
	s.options.Instruments.LoopStarted(context.Background(), string(w.KindType()))
	go s.runLoop(ctx, handle, impl)
	return nil
}

// stopLoop cancels the loop and waits for it within DrainTimeout. Must run
// on the coordinator.
func (s *Supervisor) stopLoop(handle *loopHandle) {
	handle.cancel()
	delete(s.loops, handle.watcher.ID)
	timer := time.NewTimer(s.options.DrainTimeout)
	defer timer.Stop()
	select {
	case <-handle.done:
	case <-timer.C:
		s.logger.Warn("watcher loop did not stop in time", map[string]string{
			"watcher_id": handle.watcher.ID,
			"timeout":    s.options.DrainTimeout.String(),
		})
	}
}

func (s *Supervisor) drain(ctx context.Context, handles []*loopHandle) int {
	timer := time.NewTimer(s.options.DrainTimeout)
	defer timer.Stop()
	for index, handle := range handles {
		select {
		case <-handle.done:
		case <-timer.C:
			return len(handles) - index
		case <-ctx.Done():
			return len(handles) - index
		}
	}
	return 0
}

func (s *Supervisor) notifyExit(handle *loopHandle) {
	select {
	case s.exits <- loopExit{id: handle.watcher.ID, generation: handle.generation}:
	case <-s.done:
	}
}

func (s *Supervisor) emit(eventType string, w watcher.Watcher, reason string) {
	lifecycle := event.NewLifecycleEvent(eventType, w.ID, string(w.KindType()))
	lifecycle.Reason = reason
	s.options.Lifecycle.Publish(lifecycle)
}

func sameDefinition(a, b watcher.Watcher) bool {
	if a.Action != b.Action || a.ReplyChannel != b.ReplyChannel || a.KindType() != b.KindType() {
		return false
	}
	left, err := watcher.MarshalKind(a.Kind)
	if err != nil {
		return false
	}
	right, err := watcher.MarshalKind(b.Kind)
	if err != nil {
		return false
	}
	return string(left) == string(right)
}
