package otel

import (
	"context"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	ScopeScheduler = "watchd/scheduler"
	ScopeAPI       = "watchd/api"

	MetricCheckCount      = "watchd.check.count"
	MetricCheckDuration   = "watchd.check.duration"
	MetricTriggerCount    = "watchd.trigger.count"
	MetricPublishFailures = "watchd.publish.failures"
	MetricDegradedCount   = "watchd.watcher.degraded"
	MetricActiveLoops     = "watchd.loops.active"

	MetricRequestCount    = "http.server.request.count"
	MetricRequestDuration = "http.server.request.duration"
	MetricActiveRequests  = "http.server.active_requests"
	MetricAPIErrorCount   = "api.errors.count"

	SpanCheck   = "watcher.check"
	SpanPublish = "watcher.publish"

	spanNameHTTPRequest = "http.server.request"
)

// SchedulerInstruments are the OpenTelemetry instruments recorded by the
// supervisor. A nil value records nothing.
type SchedulerInstruments struct {
	tracer          trace.Tracer
	checkCount      metric.Int64Counter
	checkDuration   metric.Float64Histogram
	triggerCount    metric.Int64Counter
	publishFailures metric.Int64Counter
	degradedCount   metric.Int64Counter
	activeLoops     metric.Int64UpDownCounter
}

// NewSchedulerInstruments uses the global providers when meter or tracer is
// nil.
func NewSchedulerInstruments(meter metric.Meter, tracer trace.Tracer) (*SchedulerInstruments, error) {
	if meter == nil {
		meter = otelapi.GetMeterProvider().Meter(ScopeScheduler)
	}
	if tracer == nil {
		tracer = otelapi.Tracer(ScopeScheduler)
	}
	checkCount, err := meter.Int64Counter(MetricCheckCount,
		metric.WithDescription("Watcher checks by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}
	checkDuration, err := meter.Float64Histogram(MetricCheckDuration,
		metric.WithDescription("Watcher check duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	triggerCount, err := meter.Int64Counter(MetricTriggerCount,
		metric.WithDescription("Fired watcher events"),
	)
	if err != nil {
		return nil, err
	}
	publishFailures, err := meter.Int64Counter(MetricPublishFailures,
		metric.WithDescription("Events the sink rejected"),
	)
	if err != nil {
		return nil, err
	}
	degradedCount, err := meter.Int64Counter(MetricDegradedCount,
		metric.WithDescription("Watchers deactivated after repeated failures"),
	)
	if err != nil {
		return nil, err
	}
	activeLoops, err := meter.Int64UpDownCounter(MetricActiveLoops,
		metric.WithDescription("Running watcher loops"),
	)
	if err != nil {
		return nil, err
	}
	return &SchedulerInstruments{
		tracer:          tracer,
		checkCount:      checkCount,
		checkDuration:   checkDuration,
		triggerCount:    triggerCount,
		publishFailures: publishFailures,
		degradedCount:   degradedCount,
		activeLoops:     activeLoops,
	}, nil
}

// StartSpan starts a span for one watcher operation.
func (instruments *SchedulerInstruments) StartSpan(ctx context.Context, name, watcherID, kind string) (context.Context, trace.Span) {
	if instruments == nil || instruments.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return instruments.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("watcher.id", watcherID),
		attribute.String("watcher.kind", kind),
	))
}

func (instruments *SchedulerInstruments) RecordCheck(ctx context.Context, kind, outcome string, duration time.Duration) {
	if instruments == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("watcher.kind", kind),
		attribute.String("outcome", outcome),
	)
	instruments.checkCount.Add(ctx, 1, attrs)
	instruments.checkDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("watcher.kind", kind)))
}

func (instruments *SchedulerInstruments) RecordTrigger(ctx context.Context, kind, triggerKind string) {
	if instruments == nil {
		return
	}
	instruments.triggerCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("watcher.kind", kind),
		attribute.String("trigger.kind", triggerKind),
	))
}

func (instruments *SchedulerInstruments) RecordPublishFailure(ctx context.Context, kind string) {
	if instruments == nil {
		return
	}
	instruments.publishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("watcher.kind", kind)))
}

func (instruments *SchedulerInstruments) RecordDegraded(ctx context.Context, kind string) {
	if instruments == nil {
		return
	}
	instruments.degradedCount.Add(ctx, 1, metric.WithAttributes(attribute.String("watcher.kind", kind)))
}

func (instruments *SchedulerInstruments) LoopStarted(ctx context.Context, kind string) {
	if instruments == nil {
		return
	}
	instruments.activeLoops.Add(ctx, 1, metric.WithAttributes(attribute.String("watcher.kind", kind)))
}

func (instruments *SchedulerInstruments) LoopStopped(ctx context.Context, kind string) {
	if instruments == nil {
		return
	}
	instruments.activeLoops.Add(ctx, -1, metric.WithAttributes(attribute.String("watcher.kind", kind)))
}
