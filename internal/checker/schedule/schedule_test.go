package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func fixedClock(times ...time.Time) func() time.Time {
	index := 0
	return func() time.Time {
		current := times[index]
		if index < len(times)-1 {
			index++
		}
		return current
	}
}

func TestOneShotFiresAtOrAfterDeadline(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.now = fixedClock(at.Add(-time.Minute), at, at.Add(time.Hour))
	w := watcher.Watcher{ID: "once", Kind: watcher.OneShot{At: at, Task: "ship it", Cadence: watcher.Cadence{IntervalSecs: 30}}}

	trigger, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, trigger)

	trigger, err = c.Check(context.Background(), w)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerKind, trigger.Kind)
	assert.Equal(t, Payload{Task: "ship it", ScheduledAt: at}, trigger.Payload)

	trigger, err = c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.NotNil(t, trigger)
}

func TestCronFiresOncePerTick(t *testing.T) {
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	c := New()
	c.now = fixedClock(
		created.Add(30*time.Minute),
		created.Add(time.Hour+30*time.Second),
		created.Add(time.Hour+10*time.Minute),
		created.Add(25*time.Hour+5*time.Minute),
	)
	w := watcher.Watcher{
		ID:        "daily",
		CreatedAt: created,
		Kind:      watcher.Scheduled{CronExpr: "0 9 * * *", Task: "standup", Cadence: watcher.Cadence{IntervalSecs: 60}},
	}

	results := make([]bool, 0, 4)
	for i := 0; i < 4; i++ {
		trigger, err := c.Check(context.Background(), w)
		require.NoError(t, err)
		results = append(results, trigger != nil)
		if trigger != nil {
			payload := trigger.Payload.(Payload)
			assert.Equal(t, "standup", payload.Task)
			assert.Equal(t, 0, payload.ScheduledAt.Minute())
			assert.Equal(t, 9, payload.ScheduledAt.Hour())
		}
	}
	assert.Equal(t, []bool{false, true, false, true}, results)
}

func TestCronForgetResetsBaseline(t *testing.T) {
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	c := New()
	c.now = fixedClock(created.Add(2 * time.Hour))
	w := watcher.Watcher{
		ID:        "w",
		CreatedAt: created,
		Kind:      watcher.Scheduled{CronExpr: "0 9 * * *", Task: "t", Cadence: watcher.Cadence{IntervalSecs: 60}},
	}

	first, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.NotNil(t, first)
	second, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, second)

	c.Forget("w")
	third, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestScheduleRejectsOtherKinds(t *testing.T) {
	_, err := New().Check(context.Background(), watcher.Watcher{ID: "x", Kind: watcher.IntervalWatch{}})
	assert.Error(t, err)
}
