package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/payrelay/observe/exporters"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string        `yaml:"service_name"`
	Version     string        `yaml:"version"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"`   // otlp|jaeger|stdout|none
	SamplePct float64 `yaml:"sample_pct"` // 0.0-1.0
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp|prometheus|stdout|none
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"` // debug|info|warn|error

	// Writer receives log lines. Default: os.Stderr
	Writer io.Writer `yaml:"-"`
}

// Validate checks the enabled sections. Disabled sections are not checked.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if t := c.Tracing; t.Enabled {
		if t.Exporter != "" && !slices.Contains(exporters.TracingExporterNames(), t.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, t.Exporter)
		}
		if t.SamplePct < 0 || t.SamplePct > 1 {
			return fmt.Errorf("%w: got %g", ErrInvalidSamplePct, t.SamplePct)
		}
	}
	if m := c.Metrics; m.Enabled && m.Exporter != "" && !slices.Contains(exporters.MetricsExporterNames(), m.Exporter) {
		return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, m.Exporter)
	}
	if c.Logging.Enabled {
		if _, err := ParseLogLevel(c.Logging.Level); err != nil {
			return err
		}
	}
	return nil
}

// Observer bundles the telemetry handles payrelay components share. It is
// safe for concurrent use. Shutdown flushes exporters and may be called
// more than once.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger

	// MetricsHandler serves the Prometheus scrape endpoint, or 404 when the
	// prometheus exporter is not configured.
	MetricsHandler() http.Handler

	Shutdown(ctx context.Context) error
}

// Logger is the structured logger used throughout payrelay. Logging is best
// effort and never panics.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger

	// WithCall returns a logger scoped to one outbound call or delivery.
	WithCall(meta CallMeta) Logger
}

// Field is one structured log attribute.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type observer struct {
	tracer         trace.Tracer
	meter          metric.Meter
	logger         Logger
	metricsHandler http.Handler
	shutdowns      []func(context.Context) error
}

// NewObserver validates cfg and builds the tracer, meter and logger it
// enables. Disabled parts are no-ops.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	obs := &observer{
		tracer:         tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
		meter:          noop.NewMeterProvider().Meter(cfg.ServiceName),
		logger:         NopLogger(),
		metricsHandler: http.NotFoundHandler(),
	}
	if cfg.Tracing.Enabled {
		if err := obs.startTracing(ctx, cfg, res); err != nil {
			return nil, err
		}
	}
	if cfg.Metrics.Enabled {
		if err := obs.startMetrics(ctx, cfg, res); err != nil {
			_ = obs.Shutdown(ctx)
			return nil, err
		}
	}
	if cfg.Logging.Enabled {
		w := cfg.Logging.Writer
		if w == nil {
			w = os.Stderr
		}
		obs.logger = NewLoggerWithWriter(cfg.Logging.Level, w).
			With(F("service", cfg.ServiceName), F("version", cfg.Version))
	}
	return obs, nil
}

// sampler maps a sampling fraction onto a parent-based sampler so inbound
// webhook traces keep their caller's decision.
func sampler(pct float64) sdktrace.Sampler {
	switch {
	case pct >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case pct <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(pct))
	}
}

func (o *observer) startTracing(ctx context.Context, cfg Config, res *resource.Resource) error {
	exp, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, exporters.Options{})
	if err != nil {
		return fmt.Errorf("observe: tracing: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.Tracing.SamplePct)),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	o.tracer = tp.Tracer(cfg.ServiceName)
	o.shutdowns = append(o.shutdowns, tp.Shutdown)
	return nil
}

func (o *observer) startMetrics(ctx context.Context, cfg Config, res *resource.Resource) error {
	var opts exporters.Options
	if cfg.Metrics.Exporter == "prometheus" {
		reg := promclient.NewRegistry()
		opts.Registerer = reg
		o.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, opts)
	if err != nil {
		return fmt.Errorf("observe: metrics: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	o.meter = mp.Meter(cfg.ServiceName)
	o.shutdowns = append(o.shutdowns, mp.Shutdown)
	return nil
}

func (o *observer) Tracer() trace.Tracer {
	return o.tracer
}

func (o *observer) Meter() metric.Meter {
	return o.meter
}

func (o *observer) Logger() Logger {
	return o.logger
}

func (o *observer) MetricsHandler() http.Handler {
	return o.metricsHandler
}

// Shutdown flushes and stops the providers in reverse start order.
func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(o.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, o.shutdowns[i](ctx))
	}
	o.shutdowns = nil
	return errors.Join(errs...)
}
