// Package interval fires an IntervalWatch on every scheduled cycle.
package interval

import (
	"context"
	"sync"
	"time"

	"github.com/kavymi/meepo-sub001/internal/checker"
	"github.com/kavymi/meepo-sub001/internal/watcher"
)

const TriggerKind = "interval_elapsed"

type Payload struct {
	Tick int64     `json:"tick"`
	At   time.Time `json:"at"`
}

// Checker counts ticks per watcher so consumers can tell cycles apart.
type Checker struct {
	mu    sync.Mutex
	ticks map[string]int64
	now   func() time.Time
}

func New() *Checker {
	return &Checker{ticks: make(map[string]int64), now: time.Now}
}

func (c *Checker) Check(ctx context.Context, w watcher.Watcher) (*checker.Trigger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ticks[w.ID]++
	tick := c.ticks[w.ID]
	c.mu.Unlock()
	return checker.Fire(TriggerKind, Payload{Tick: tick, At: c.now().UTC()}), nil
}

func (c *Checker) Forget(watcherID string) {
	c.mu.Lock()
	delete(c.ticks, watcherID)
	c.mu.Unlock()
}
