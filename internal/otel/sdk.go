package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	logglobal "go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	defaultServiceName  = "watchd"
	defaultHTTPEndpoint = "127.0.0.1:4318"
)

// SDKOptions selects where watchd exports traces and metrics.
type SDKOptions struct {
	Enabled            bool
	HTTPEndpoint       string
	ServiceName        string
	ServiceVersion     string
	ResourceAttributes map[string]string
}

// collectorEndpoint is an OTLP/HTTP collector address split for the exporter
// options. Bare host:port values are plain HTTP.
type collectorEndpoint struct {
	host     string
	path     string
	insecure bool
}

func parseEndpoint(raw string) (collectorEndpoint, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultHTTPEndpoint
	}
	if !strings.Contains(trimmed, "://") {
		return collectorEndpoint{host: strings.TrimSuffix(trimmed, "/"), insecure: true}, nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return collectorEndpoint{}, fmt.Errorf("otel endpoint %q: %w", raw, err)
	}
	if parsed.Host == "" {
		return collectorEndpoint{}, fmt.Errorf("otel endpoint %q has no host", raw)
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return collectorEndpoint{}, fmt.Errorf("otel endpoint %q: unsupported scheme %q", raw, parsed.Scheme)
	}
	return collectorEndpoint{
		host:     parsed.Host,
		path:     strings.TrimSuffix(parsed.Path, "/"),
		insecure: parsed.Scheme == "http",
	}, nil
}

func (endpoint collectorEndpoint) traceOptions() []otlptracehttp.Option {
	options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint.host)}
	if endpoint.path != "" {
		options = append(options, otlptracehttp.WithURLPath(endpoint.path+"/v1/traces"))
	}
	if endpoint.insecure {
		options = append(options, otlptracehttp.WithInsecure())
	}
	return options
}

func (endpoint collectorEndpoint) logOptions() []otlploghttp.Option {
	options := []otlploghttp.Option{otlploghttp.WithEndpoint(endpoint.host)}
	if endpoint.path != "" {
		options = append(options, otlploghttp.WithURLPath(endpoint.path+"/v1/logs"))
	}
	if endpoint.insecure {
		options = append(options, otlploghttp.WithInsecure())
	}
	return options
}

func (endpoint collectorEndpoint) metricOptions() []otlpmetrichttp.Option {
	options := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint.host)}
	if endpoint.path != "" {
		options = append(options, otlpmetrichttp.WithURLPath(endpoint.path+"/v1/metrics"))
	}
	if endpoint.insecure {
		options = append(options, otlpmetrichttp.WithInsecure())
	}
	return options
}

// resourceAttributes builds the resource for watchd. Extra attributes are
// sorted by key and cannot override service.name.
func resourceAttributes(options SDKOptions, hostname string) []attribute.KeyValue {
	serviceName := strings.TrimSpace(options.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	if version := strings.TrimSpace(options.ServiceVersion); version != "" {
		attrs = append(attrs, attribute.String("service.version", version))
	}
	if hostname = strings.TrimSpace(hostname); hostname != "" {
		attrs = append(attrs, attribute.String("host.name", hostname))
	}
	keys := make([]string, 0, len(options.ResourceAttributes))
	for key := range options.ResourceAttributes {
		if trimmed := strings.TrimSpace(key); trimmed != "" && trimmed != "service.name" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, attribute.String(strings.TrimSpace(key), strings.TrimSpace(options.ResourceAttributes[key])))
	}
	return attrs
}

// SetupSDK installs global tracer, meter and logger providers exporting over
// OTLP HTTP. The returned function flushes and stops them. When disabled the
// globals stay no-op.
func SetupSDK(ctx context.Context, options SDKOptions) (func(context.Context) error, error) {
	if !options.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	endpoint, err := parseEndpoint(options.HTTPEndpoint)
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(resourceAttributes(options, hostname)...))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx, endpoint.traceOptions()...)
	if err != nil {
		return nil, fmt.Errorf("otel trace exporter: %w", err)
	}
	metricExporter, err := otlpmetrichttp.New(ctx, endpoint.metricOptions()...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otel metric exporter: %w", err), traceExporter.Shutdown(ctx))
	}
	logExporter, err := otlploghttp.New(ctx, endpoint.logOptions()...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otel log exporter: %w", err), traceExporter.Shutdown(ctx), metricExporter.Shutdown(ctx))
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	otelapi.SetTracerProvider(tracerProvider)
	otelapi.SetMeterProvider(meterProvider)
	logglobal.SetLoggerProvider(loggerProvider)
	otelapi.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(shutdownCtx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(shutdownCtx),
			meterProvider.Shutdown(shutdownCtx),
			loggerProvider.Shutdown(shutdownCtx),
		)
	}, nil
}
