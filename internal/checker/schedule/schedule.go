// Package schedule evaluates cron based and one-shot time watchers.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const TriggerKind = "task_triggered"

type Payload struct {
	Task        string    `json:"task"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CronExpr    string    `json:"cron_expr,omitempty"`
}

// Checker serves both Scheduled and OneShot watchers.
//
// A Scheduled watcher fires when a cron tick fell between its previous
// check and now. The first check looks back to the watcher's creation, so
// after a restart the most recent missed tick fires once.
type Checker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

func New() *Checker {
	return &Checker{lastSeen: make(map[string]time.Time), now: time.Now}
}

func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch kind := w.Kind.(type) {
	case watcher.OneShot:
		return c.checkOneShot(kind), nil
	case watcher.Scheduled:
		return c.checkCron(w, kind)
	default:
		return nil, fmt.Errorf("schedule checker cannot evaluate %s", w.KindType())
	}
}

func (c *Checker) checkOneShot(kind watcher.OneShot) *checker.Trigger {
	if c.now().Before(kind.At) {
		return nil
	}
	return checker.Fire(TriggerKind, Payload{Task: kind.Task, ScheduledAt: kind.At.UTC()})
}

func (c *Checker) checkCron(w watcher.Watcher, kind watcher.Scheduled) (*checker.Trigger, error) {
	now := c.now().UTC().Truncate(time.Second)
	tick, err := gronx.PrevTickBefore(kind.CronExpr, now, true)
	if err != nil {
		return nil, fmt.Errorf("evaluate cron %q: %w", kind.CronExpr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastSeen[w.ID]
	if !ok {
		last = w.CreatedAt.UTC()
	}
	if !tick.After(last) {
		return nil, nil
	}
	c.lastSeen[w.ID] = tick
	return checker.Fire(TriggerKind, Payload{Task: kind.Task, ScheduledAt: tick.UTC(), CronExpr: kind.CronExpr}), nil
}

func (c *Checker) Forget(watcherID string) {
	c.mu.Lock()
	delete(c.lastSeen, watcherID)
	c.mu.Unlock()
}
