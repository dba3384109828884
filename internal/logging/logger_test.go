package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("watcher scheduled", map[string]string{"watcher_id": "w-1"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Message != "watcher scheduled" {
		t.Fatalf("expected message, got %q", entry.Message)
	}
	if entry.Context["watcher_id"] != "w-1" {
		t.Fatalf("expected watcher_id context, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
}

func TestLoggerWithMergesFields(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelDebug, io.Discard).With(map[string]string{"component": "supervisor"})

	logger.Debug("tick", map[string]string{"watcher_id": "abc"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Context["component"] != "supervisor" || entries[0].Context["watcher_id"] != "abc" {
		t.Fatalf("unexpected context %v", entries[0].Context)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var out bytes.Buffer
	logger := New(Options{Level: LevelInfo, Output: &out})

	logger.Warn("check failed", map[string]string{"b": "2", "a": "1"})

	line := out.String()
	if !strings.Contains(line, `level=warning msg="check failed" a="1" b="2"`) {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var out bytes.Buffer
	logger := New(Options{Level: LevelInfo, Format: FormatJSON, Output: &out})

	logger.Error("store unavailable", map[string]string{"error": "disk full"})

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if entry.Level != LevelError || entry.Context["error"] != "disk full" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestLoggerStreamDeliversEntries(t *testing.T) {
	logger := NewLoggerWithOutput(NewLogBuffer(50), LevelInfo, io.Discard)
	output, cancel := logger.Subscribe("")
	defer cancel()

	logger.Info("first", nil)
	logger.Info("second", nil)

	for _, expected := range []string{"first", "second"} {
		select {
		case entry := <-output:
			if entry.Message != expected {
				t.Fatalf("expected %q, got %q", expected, entry.Message)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", expected)
		}
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.With(map[string]string{"a": "b"}) != nil {
		t.Fatalf("expected nil child logger")
	}
	if logger.Buffer() != nil {
		t.Fatalf("expected nil buffer")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		" error ": LevelError,
	}
	for raw, expected := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != expected {
			t.Fatalf("ParseLevel(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Fatalf("expected verbose to be rejected")
	}
}

func FuzzParseLevel(f *testing.F) {
	for _, seed := range []string{"info", "warn", "warning", "error", "debug", "", "???", "INFO"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		_, _ = ParseLevel(raw)
	})
}
