package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogHubFiltersByLevel(t *testing.T) {
	hub := NewLogHub()
	warnings, cancel := hub.Subscribe(4, LevelWarning)
	defer cancel()
	everything, cancelAll := hub.Subscribe(4, "")
	defer cancelAll()

	hub.Broadcast(LogEntry{Level: LevelInfo, Message: "loop started"})
	hub.Broadcast(LogEntry{Level: LevelError, Message: "check failed", Context: map[string]string{"watcher_id": "w1"}})

	select {
	case got := <-warnings:
		assert.Equal(t, "check failed", got.Message)
		assert.Equal(t, "w1", got.WatcherID())
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for log entry")
	}
	assert.Len(t, everything, 2)
	assert.Equal(t, 2, hub.SubscriberCount())
}

func TestLogHubCountsDrops(t *testing.T) {
	hub := NewLogHub()
	_, cancel := hub.Subscribe(1, "")
	defer cancel()

	hub.Broadcast(LogEntry{Level: LevelInfo, Message: "a"})
	hub.Broadcast(LogEntry{Level: LevelInfo, Message: "b"})
	assert.Equal(t, int64(1), hub.Dropped())
}

func TestLogHubCloseClosesSubscribers(t *testing.T) {
	hub := NewLogHub()
	ch, cancel := hub.Subscribe(1, "")
	hub.Close()

	_, ok := <-ch
	require.False(t, ok)
	cancel()

	late, _ := hub.Subscribe(1, "")
	_, ok = <-late
	assert.False(t, ok)

	var missing *LogHub
	closed, _ := missing.Subscribe(1, "")
	_, ok = <-closed
	assert.False(t, ok)
}

func TestLevelAtLeast(t *testing.T) {
	assert.True(t, LevelError.AtLeast(LevelWarning))
	assert.False(t, LevelDebug.AtLeast(LevelInfo))
	assert.True(t, LevelDebug.AtLeast(""))
	assert.True(t, Level("bogus").AtLeast(LevelInfo))
}

func TestLogBufferQuery(t *testing.T) {
	buffer := NewLogBuffer(10)
	buffer.Add(LogEntry{Level: LevelDebug, Message: "a"})
	buffer.Add(LogEntry{Level: LevelWarning, Message: "b"})
	buffer.Add(LogEntry{Level: LevelError, Message: "c"})
	buffer.Add(LogEntry{Level: LevelInfo, Message: "d"})

	got := buffer.Query(LevelWarning, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, "c", got[1].Message)

	limited := buffer.Query(LevelDebug, 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "d", limited[0].Message)
}
