package event

import (
	"context"
	"sort"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	logglobal "go.opentelemetry.io/otel/log/global"
)

// ScopeEvents names the OpenTelemetry logger used by every bus.
const ScopeEvents = "watchd/events"

// LogFielder is implemented by events that carry attributes worth exporting
// alongside the event type.
type LogFielder interface {
	LogFields() map[string]string
}

func defaultOTelLogger() otellog.Logger {
	return logglobal.GetLoggerProvider().Logger(ScopeEvents)
}

// emitOTelRecord mirrors a published value as a log record. Values that do
// not implement Event have no name and are skipped.
func (b *Bus[T]) emitOTelRecord(value T) {
	if b.otelLogger == nil {
		return
	}
	typed, ok := any(value).(Event)
	if !ok || strings.TrimSpace(typed.Type()) == "" {
		return
	}
	eventName := typed.Type()
	severity, severityText := severityForEvent(eventName)
	timestamp := typed.Timestamp()
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	var record otellog.Record
	record.SetTimestamp(timestamp)
	record.SetObservedTimestamp(time.Now().UTC())
	record.SetSeverity(severity)
	record.SetSeverityText(severityText)
	record.SetBody(otellog.StringValue(eventName))
	record.AddAttributes(eventAttributes(b.busName(), eventName, value)...)
	b.otelLogger.Emit(context.Background(), record)
}

func severityForEvent(eventName string) (otellog.Severity, string) {
	switch eventName {
	case WatcherDegraded:
		return otellog.SeverityError, "error"
	case WatcherFailed:
		return otellog.SeverityWarn, "warning"
	default:
		return otellog.SeverityInfo, "info"
	}
}

func eventAttributes[T any](busName, eventName string, value T) []otellog.KeyValue {
	attrs := []otellog.KeyValue{
		otellog.String("event.bus", busName),
		otellog.String("event.name", eventName),
	}
	fielder, ok := any(value).(LogFielder)
	if !ok {
		return attrs
	}
	fields := fielder.LogFields()
	keys := make([]string, 0, len(fields))
	for key, fieldValue := range fields {
		if strings.TrimSpace(key) != "" && fieldValue != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, otellog.String(key, fields[key]))
	}
	return attrs
}
