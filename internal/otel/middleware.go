package otel

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type RouteInfo struct {
	Route     string
	Category  string
	Operation string
}

type routeInfoKey struct{}

type APIErrorInfo struct {
	Status  int
	Code    string
	Message string
}

type apiErrorKey struct{}

type apiMetrics struct {
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
	errorCounter    metric.Int64Counter
}

type apiMiddleware struct {
	metrics *apiMetrics
	tracer  trace.Tracer
}

// NewAPIInstrumentationMiddleware records request metrics and a server span
// per request.
func NewAPIInstrumentationMiddleware(meter metric.Meter, tracer trace.Tracer) (func(http.Handler) http.Handler, error) {
	if meter == nil {
		meter = otelapi.GetMeterProvider().Meter(ScopeAPI)
	}
	if tracer == nil {
		tracer = otelapi.Tracer(ScopeAPI)
	}
	metrics, err := newAPIMetrics(meter)
	if err != nil {
		return nil, err
	}
	middleware := &apiMiddleware{metrics: metrics, tracer: tracer}
	return middleware.wrap, nil
}

func WithRouteInfo(next http.Handler, info RouteInfo) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), routeInfoKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecordAPIError attaches error details to the request being instrumented.
func RecordAPIError(ctx context.Context, info APIErrorInfo) {
	if ctx == nil {
		return
	}
	tracker, ok := ctx.Value(apiErrorKey{}).(*APIErrorInfo)
	if !ok || tracker == nil {
		return
	}
	*tracker = info
}

func apiErrorFromContext(ctx context.Context) (APIErrorInfo, bool) {
	tracker, ok := ctx.Value(apiErrorKey{}).(*APIErrorInfo)
	if !ok || tracker == nil {
		return APIErrorInfo{}, false
	}
	if tracker.Status == 0 && tracker.Code == "" && tracker.Message == "" {
		return APIErrorInfo{}, false
	}
	return *tracker, true
}

func newAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	requestCounter, err := meter.Int64Counter(MetricRequestCount,
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}
	requestDuration, err := meter.Float64Histogram(MetricRequestDuration,
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	activeRequests, err := meter.Int64UpDownCounter(MetricActiveRequests,
		metric.WithDescription("Active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}
	errorCounter, err := meter.Int64Counter(MetricAPIErrorCount,
		metric.WithDescription("HTTP error count"),
	)
	if err != nil {
		return nil, err
	}
	return &apiMetrics{
		requestCounter:  requestCounter,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
		errorCounter:    errorCounter,
	}, nil
}

func (middleware *apiMiddleware) wrap(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		routeInfo := resolveRouteInfo(r)
		attributes := buildAttributes(r, routeInfo)

		ctx := otelapi.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = context.WithValue(ctx, apiErrorKey{}, &APIErrorInfo{})
		ctx, span := middleware.tracer.Start(ctx, spanNameHTTPRequest,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attributes...),
		)
		defer span.End()
		r = r.WithContext(ctx)

		activeAttrs := metric.WithAttributes(attribute.String("http.route", routeInfo.Route))
		middleware.metrics.activeRequests.Add(ctx, 1, activeAttrs)
		defer middleware.metrics.activeRequests.Add(ctx, -1, activeAttrs)

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		statusAttributes := append(attributes, attribute.Int("http.status_code", status))
		span.SetAttributes(attribute.Int("http.status_code", status))
		middleware.metrics.requestCounter.Add(ctx, 1, metric.WithAttributes(statusAttributes...))
		middleware.metrics.requestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("http.route", routeInfo.Route),
			attribute.String("category", routeInfo.Category),
		))

		errorInfo, hasErrorInfo := apiErrorFromContext(ctx)
		if status < http.StatusBadRequest && !hasErrorInfo {
			return
		}
		errorType := errorTypeForStatus(status)
		if hasErrorInfo && errorInfo.Code != "" {
			errorType = errorInfo.Code
		}
		errorAttrs := append(statusAttributes, attribute.String("error_type", errorType))
		middleware.metrics.errorCounter.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
		span.SetStatus(codes.Error, errorInfo.Message)
	})
}

// statusRecorder forwards Hijack so websocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(statusCode int) {
	recorder.status = statusCode
	recorder.ResponseWriter.WriteHeader(statusCode)
}

func (recorder *statusRecorder) Write(data []byte) (int, error) {
	if recorder.status == 0 {
		recorder.status = http.StatusOK
	}
	return recorder.ResponseWriter.Write(data)
}

func (recorder *statusRecorder) Flush() {
	if flusher, ok := recorder.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (recorder *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := recorder.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if recorder.status == 0 {
		recorder.status = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}

func (recorder *statusRecorder) Unwrap() http.ResponseWriter {
	return recorder.ResponseWriter
}

func resolveRouteInfo(r *http.Request) RouteInfo {
	info, _ := r.Context().Value(routeInfoKey{}).(RouteInfo)
	if info.Route == "" {
		info.Route = r.URL.Path
	}
	if info.Category == "" {
		info.Category = categoryForPath(r.URL.Path)
	}
	if info.Operation == "" || info.Operation == "auto" {
		info.Operation = operationForMethod(r.Method)
	}
	return info
}

func categoryForPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/watchers"):
		return "watchers"
	case strings.HasPrefix(path, "/api/messages"):
		return "messages"
	case strings.HasPrefix(path, "/ws/"):
		return "stream"
	case path == "/metrics", strings.HasPrefix(path, "/api/status"), strings.HasPrefix(path, "/api/reload"):
		return "status"
	default:
		return "other"
	}
}

func operationForMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodDelete:
		return "delete"
	default:
		return "update"
	}
}

func buildAttributes(r *http.Request, info RouteInfo) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.method", r.Method),
		attribute.String("http.route", info.Route),
		attribute.String("http.target", r.URL.Path),
		attribute.String("category", info.Category),
		attribute.String("operation", info.Operation),
	}
}

func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status >= http.StatusInternalServerError:
		return "server"
	case status >= http.StatusBadRequest:
		return "client"
	default:
		return "unknown"
	}
}
