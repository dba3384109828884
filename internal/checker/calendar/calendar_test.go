package calendar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

func calendarWatcher(hours int64) watcher.Watcher {
	return watcher.Watcher{
		ID:   "cal",
		Kind: watcher.CalendarWatch{LookaheadHours: hours, Cadence: watcher.Cadence{IntervalSecs: 300}},
	}
}

func writeCalendar(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFiresOnceForUpcomingEvents(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	path := writeCalendar(t, `
events:
  - id: standup
    title: Standup
    start: 2026-05-04T09:00:00Z
  - id: review
    title: Design review
    start: 2026-05-04T15:00:00Z
  - id: past
    title: Breakfast
    start: 2026-05-04T07:00:00Z
`)
	c, err := New(Options{Source: File{Path: path}})
	require.NoError(t, err)
	c.now = func() time.Time { return now }
	w := calendarWatcher(2)

	trigger, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, TriggerKind, trigger.Kind)
	payload := trigger.Payload.(Payload)
	require.Len(t, payload.Events, 1)
	assert.Equal(t, "standup", payload.Events[0].ID)
	assert.Equal(t, now.Add(2*time.Hour), payload.WindowEnd)

	trigger, err = c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.Nil(t, trigger)

	c.now = func() time.Time { return now.Add(6 * time.Hour) }
	trigger, err = c.Check(context.Background(), w)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, "review", trigger.Payload.(Payload).Events[0].ID)
}

func TestForgetAllowsRenotify(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	path := writeCalendar(t, "events:\n  - title: Sync\n    start: 2026-05-04T08:30:00Z\n")
	c, err := New(Options{Source: File{Path: path}})
	require.NoError(t, err)
	c.now = func() time.Time { return now }
	w := calendarWatcher(1)

	first, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "Sync", first.Payload.(Payload).Events[0].ID)

	c.Forget(w.ID)
	again, err := c.Check(context.Background(), w)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestMissingCalendarFileIsAnError(t *testing.T) {
	c, err := New(Options{Source: File{Path: filepath.Join(t.TempDir(), "nope.yaml")}})
	require.NoError(t, err)
	_, err = c.Check(context.Background(), calendarWatcher(1))
	assert.Error(t, err)
}

func TestMissingSource(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	_, err = c.Check(context.Background(), calendarWatcher(1))
	assert.ErrorIs(t, err, ErrNoSource)
}
