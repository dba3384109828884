package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultBufferSize = 1000

// Options configures a Logger built with New.
type Options struct {
	Level      Level
	Format     Format
	Output     io.Writer
	BufferSize int
}

type Logger struct {
	buffer      *LogBuffer
	output      *log.Logger
	format      Format
	minLevel    Level
	baseContext map[string]string
	hub         *LogHub
}

func New(options Options) *Logger {
	size := options.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	output := options.Output
	if output == nil {
		output = os.Stdout
	}
	logger := NewLoggerWithOutput(NewLogBuffer(size), options.Level, output)
	logger.format = normalizeFormat(options.Format)
	return logger
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stdout)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	return &Logger{
		buffer:   buffer,
		output:   log.New(output, "", 0),
		format:   FormatText,
		minLevel: normalizeLevel(minLevel),
		hub:      NewLogHub(),
	}
}

// Discard returns a logger that keeps entries in memory only.
func Discard() *Logger {
	return NewLoggerWithOutput(nil, LevelDebug, io.Discard)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

// Subscribe streams new entries at or above minLevel until cancelled.
func (l *Logger) Subscribe(minLevel Level) (<-chan LogEntry, func()) {
	if l == nil {
		return (*LogHub)(nil).Subscribe(0, minLevel)
	}
	return l.hub.Subscribe(0, minLevel)
}

// Hub exposes the live fan-out shared by the logger and its children.
func (l *Logger) Hub() *LogHub {
	if l == nil {
		return nil
	}
	return l.hub
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	child := *l
	child.baseContext = cloneFields(l.baseContext, fields)
	return &child
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return level.AtLeast(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.baseContext, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.hub != nil {
		l.hub.Broadcast(entry)
	}
	if l.output == nil {
		return
	}
	if l.format == FormatJSON {
		l.output.Print(formatJSONEntry(entry))
		return
	}
	l.output.Print(formatEntry(entry))
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

func normalizeFormat(format Format) Format {
	if format == FormatJSON {
		return FormatJSON
	}
	return FormatText
}

// LevelAtLeast reports whether level is as severe as minLevel.
func LevelAtLeast(level, minLevel Level) bool {
	return level.AtLeast(minLevel)
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

func formatEntry(entry LogEntry) string {
	builder := strings.Builder{}
	builder.WriteString("time=")
	builder.WriteString(entry.Timestamp.Format(time.RFC3339Nano))
	builder.WriteString(" level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf(" %s=%s", key, strconv.Quote(entry.Context[key])))
	}
	return builder.String()
}

func formatJSONEntry(entry LogEntry) string {
	data, err := json.Marshal(entry)
	if err != nil {
		return formatEntry(entry)
	}
	return string(data)
}
