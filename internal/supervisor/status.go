package supervisor

import (
	"sync"
	"time"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

type State string

const (
	StateScheduled State = "scheduled"
	StateChecking  State = "checking"
	StateIdle      State = "idle"
	StateTriggered State = "triggered"
	StateBackoff   State = "backoff"
	StateStopped   State = "stopped"
)

// LoopStatus is a point-in-time view of one watcher loop.
type LoopStatus struct {
	WatcherID   string           `json:"watcher_id"`
	Kind        watcher.KindType `json:"kind"`
	Description string           `json:"description"`
	OneShot     bool             `json:"one_shot"`
	Interval    time.Duration    `json:"interval_ns"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   time.Time        `json:"started_at"`
	State       State            `json:"state"`
	Failures    int              `json:"consecutive_failures"`
	Checks      int64            `json:"checks"`
	Triggers    int64            `json:"triggers"`
	LastCheck   time.Time        `json:"last_check,omitempty"`
	NextRun     time.Time        `json:"next_run,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

type loopState struct {
	mu     sync.Mutex
	status LoopStatus
}

func newLoopState(w watcher.Watcher, now time.Time) *loopState {
	return &loopState{status: LoopStatus{
		WatcherID:   w.ID,
		Kind:        w.KindType(),
		Description: w.Description(),
		OneShot:     w.IsOneShot(),
		Interval:    w.Interval(),
		CreatedAt:   w.CreatedAt,
		StartedAt:   now,
		State:       StateScheduled,
		NextRun:     now,
	}}
}

func (state *loopState) snapshot() LoopStatus {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.status
}

func (state *loopState) setState(next State, nextRun time.Time) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status.State = next
	if !nextRun.IsZero() {
		state.status.NextRun = nextRun
	}
}

func (state *loopState) setFailures(failures int) {
	state.mu.Lock()
	state.status.Failures = failures
	state.mu.Unlock()
}

func (state *loopState) recordCheck(now time.Time, result checkResult) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status.Checks++
	state.status.LastCheck = now
	if result.err != nil {
		state.status.LastError = result.err.Error()
		return
	}
	state.status.LastError = ""
	if result.trigger != nil {
		state.status.Triggers++
	}
}
