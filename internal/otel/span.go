package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordSpanEvent adds a named event to the recording span in ctx, if any.
func RecordSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil || name == "" {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TriggerAttributes describes a fired trigger on a publish span.
func TriggerAttributes(triggerKind string, oneShot bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("trigger.kind", triggerKind),
		attribute.Bool("watcher.one_shot", oneShot),
	}
}
