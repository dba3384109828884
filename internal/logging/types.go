package logging

import (
	"strings"
	"time"
)

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (level Level) rank() int {
	switch level {
	case LevelDebug:
		return 0
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether level is as severe as floor. An empty floor
// admits every level.
func (level Level) AtLeast(floor Level) bool {
	if floor == "" {
		return true
	}
	return level.rank() >= floor.rank()
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

// Format selects how entries are rendered on the output writer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text", "logfmt":
		return FormatText, true
	case "json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// LogEntry is one structured log line. Watcher loops attach watcher_id and
// kind to Context.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// WatcherID returns the watcher the entry concerns, if any.
func (e LogEntry) WatcherID() string {
	return e.Context["watcher_id"]
}
