// Package exporters builds the OpenTelemetry span exporters and metric
// readers payrelayd ships telemetry through. Exporters are chosen by name
// from configuration; "none" and "" discard everything.
package exporters

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options adjusts exporter construction.
type Options struct {
	// Writer receives stdout exporter output. Default: os.Stdout.
	Writer io.Writer

	// Registerer receives the Prometheus collector. Default:
	// prometheus.DefaultRegisterer.
	Registerer promclient.Registerer

	// Getenv reads OTLP endpoint variables. Default: os.Getenv.
	Getenv func(string) string
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

// endpoint returns the first non-empty variable among keys.
func (o Options) endpoint(keys ...string) string {
	getenv := o.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, k := range keys {
		if v := getenv(k); v != "" {
			return v
		}
	}
	return ""
}

type (
	traceFactory  func(context.Context, Options) (sdktrace.SpanExporter, error)
	metricFactory func(context.Context, Options) (sdkmetric.Reader, error)
)

var traceFactories = map[string]traceFactory{
	"stdout": func(_ context.Context, o Options) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(o.writer()))
	},
	"otlp": func(ctx context.Context, o Options) (sdktrace.SpanExporter, error) {
		if o.endpoint("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
			return nil, fmt.Errorf("otlp trace exporter: endpoint not set (OTEL_EXPORTER_OTLP_ENDPOINT)")
		}
		return otlptracegrpc.New(ctx)
	},
	// Jaeger ingests OTLP natively.
	"jaeger": func(ctx context.Context, o Options) (sdktrace.SpanExporter, error) {
		ep := o.endpoint("OTEL_EXPORTER_JAEGER_ENDPOINT")
		if ep == "" {
			return nil, fmt.Errorf("jaeger trace exporter: endpoint not set (OTEL_EXPORTER_JAEGER_ENDPOINT)")
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(ep), otlptracegrpc.WithInsecure())
	},
	"none": func(context.Context, Options) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	},
}

var metricFactories = map[string]metricFactory{
	"stdout": func(_ context.Context, o Options) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer()))
		if err != nil {
			return nil, fmt.Errorf("stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	"otlp": func(ctx context.Context, o Options) (sdkmetric.Reader, error) {
		if o.endpoint("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") == "" {
			return nil, fmt.Errorf("otlp metrics exporter: endpoint not set (OTEL_EXPORTER_OTLP_ENDPOINT)")
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("otlp metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	"prometheus": func(_ context.Context, o Options) (sdkmetric.Reader, error) {
		var opts []prometheus.Option
		if o.Registerer != nil {
			opts = append(opts, prometheus.WithRegisterer(o.Registerer))
		}
		exp, err := prometheus.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		return exp, nil
	},
	"none": func(context.Context, Options) (sdkmetric.Reader, error) {
		return sdkmetric.NewManualReader(), nil
	},
}

// TracingExporterNames lists the accepted tracing exporter names.
func TracingExporterNames() []string {
	return slices.Sorted(maps.Keys(traceFactories))
}

// MetricsExporterNames lists the accepted metrics exporter names.
func MetricsExporterNames() []string {
	return slices.Sorted(maps.Keys(metricFactories))
}

// NewTracingExporter creates the span exporter called name.
func NewTracingExporter(ctx context.Context, name string, opts Options) (sdktrace.SpanExporter, error) {
	f, ok := traceFactories[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unknown tracing exporter %q (want one of %v)", name, TracingExporterNames())
	}
	return f(ctx, opts)
}

// NewMetricsReader creates the metric reader called name.
func NewMetricsReader(ctx context.Context, name string, opts Options) (sdkmetric.Reader, error) {
	f, ok := metricFactories[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unknown metrics exporter %q (want one of %v)", name, MetricsExporterNames())
	}
	return f(ctx, opts)
}

func normalize(name string) string {
	if name == "" {
		return "none"
	}
	return name
}
