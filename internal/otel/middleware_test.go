package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestAPIMiddlewareRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	middleware, err := NewAPIInstrumentationMiddleware(provider.Meter("test"), nil)
	if err != nil {
		t.Fatalf("middleware init error: %v", err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := WithRouteInfo(middleware(handler), RouteInfo{Route: "/api/status", Category: "status", Operation: "read"})

	req := httptest.NewRequest(http.MethodGet, "/api/status?token=secret", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	metrics := collectMetrics(t, reader)
	datapoint := findSumDataPoint(t, metrics, MetricRequestCount)
	attrs := attributeMap(datapoint.Attributes)
	if attrs["http.method"] != http.MethodGet {
		t.Fatalf("expected method attribute, got %q", attrs["http.method"])
	}
	if attrs["http.route"] != "/api/status" {
		t.Fatalf("expected route attribute, got %q", attrs["http.route"])
	}
	if attrs["http.status_code"] != "200" {
		t.Fatalf("expected status code attribute, got %q", attrs["http.status_code"])
	}
	if attrs["http.target"] != "/api/status" {
		t.Fatalf("expected target without query, got %q", attrs["http.target"])
	}
}

func TestAPIMiddlewareRecordsErrors(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	middleware, err := NewAPIInstrumentationMiddleware(provider.Meter("test"), nil)
	if err != nil {
		t.Fatalf("middleware init error: %v", err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RecordAPIError(r.Context(), APIErrorInfo{Status: http.StatusBadRequest, Code: "invalid_watcher", Message: "bad"})
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/watchers", nil)
	rec := httptest.NewRecorder()
	middleware(handler).ServeHTTP(rec, req)

	metrics := collectMetrics(t, reader)
	attrs := attributeMap(findSumDataPoint(t, metrics, MetricAPIErrorCount).Attributes)
	if attrs["error_type"] != "invalid_watcher" {
		t.Fatalf("expected error_type invalid_watcher, got %q", attrs["error_type"])
	}
	if attrs["category"] != "watchers" {
		t.Fatalf("expected category watchers, got %q", attrs["category"])
	}
}

func TestSchedulerInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	instruments, err := NewSchedulerInstruments(provider.Meter("test"), tracerProvider.Tracer("test"))
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}
	ctx, span := instruments.StartSpan(context.Background(), SpanCheck, "w1", "FileWatch")
	instruments.RecordCheck(ctx, "FileWatch", "triggered", 20*time.Millisecond)
	instruments.RecordTrigger(ctx, "FileWatch", "file_changed")
	span.End()

	attrs := attributeMap(findSumDataPoint(t, collectMetrics(t, reader), MetricCheckCount).Attributes)
	if attrs["outcome"] != "triggered" {
		t.Fatalf("expected outcome triggered, got %q", attrs["outcome"])
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != SpanCheck {
		t.Fatalf("expected one %s span, got %d", SpanCheck, len(spans))
	}

	var nilInstruments *SchedulerInstruments
	nilInstruments.RecordCheck(context.Background(), "x", "ok", time.Second)
	_, noop := nilInstruments.StartSpan(context.Background(), SpanCheck, "w", "k")
	noop.End()
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics error: %v", err)
	}
	return rm
}

func findSumDataPoint(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.DataPoint[int64] {
	t.Helper()
	for _, scopeMetrics := range rm.ScopeMetrics {
		for _, metric := range scopeMetrics.Metrics {
			if metric.Name != name {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %s has no data points", name)
			}
			return sum.DataPoints[0]
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.DataPoint[int64]{}
}

func attributeMap(attrs attribute.Set) map[string]string {
	values := make(map[string]string)
	for index := 0; index < attrs.Len(); index++ {
		kv, ok := attrs.Get(index)
		if !ok {
			continue
		}
		key := string(kv.Key)
		switch kv.Value.Type() {
		case attribute.STRING:
			values[key] = kv.Value.AsString()
		case attribute.INT64:
			values[key] = strconv.FormatInt(kv.Value.AsInt64(), 10)
		case attribute.BOOL:
			values[key] = strconv.FormatBool(kv.Value.AsBool())
		default:
			values[key] = kv.Value.Emit()
		}
	}
	return values
}
