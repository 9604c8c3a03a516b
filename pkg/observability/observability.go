// Package observability wires OpenTelemetry tracing and metrics around the
// ledger's hot paths: appends, verification runs, and cache traffic. All of
// it is optional; a disabled provider is a no-op.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "onoal.nucleus"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults with telemetry off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "nucleus",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider manages the trace and metric providers plus the ledger's
// domain counters.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	appendCounter  metric.Int64Counter
	appendDuration metric.Float64Histogram
	verifyCounter  metric.Int64Counter
	errorCounter   metric.Int64Counter
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
}

// New creates an observability provider. With Enabled=false it returns a
// provider whose record methods are no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.appendCounter, err = p.meter.Int64Counter("nucleus.appends.total",
		metric.WithDescription("Total entries appended"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	p.appendDuration, err = p.meter.Float64Histogram("nucleus.append.duration",
		metric.WithDescription("Append duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return err
	}

	p.verifyCounter, err = p.meter.Int64Counter("nucleus.verifications.total",
		metric.WithDescription("Total chain verification runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	p.errorCounter, err = p.meter.Int64Counter("nucleus.errors.total",
		metric.WithDescription("Total operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.cacheHits, err = p.meter.Int64Counter("nucleus.cache.hits",
		metric.WithDescription("Cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	p.cacheMisses, err = p.meter.Int64Counter("nucleus.cache.misses",
		metric.WithDescription("Cache misses"),
		metric.WithUnit("{miss}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// StartSpan starts a span under the ledger tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordAppend records one successful append for a stream.
func (p *Provider) RecordAppend(ctx context.Context, stream string, duration time.Duration) {
	if p.appendCounter != nil {
		p.appendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
	}
	if p.appendDuration != nil {
		p.appendDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("stream", stream)))
	}
}

// RecordVerification records a chain verification run and its outcome.
func (p *Provider) RecordVerification(ctx context.Context, valid bool, entriesChecked int) {
	if p.verifyCounter != nil {
		p.verifyCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("valid", valid),
			attribute.Int("entries_checked", entriesChecked),
		))
	}
}

// RecordError records an operation error.
func (p *Provider) RecordError(ctx context.Context, op string, err error) {
	if p.errorCounter != nil {
		p.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
	}
}

// RecordCacheHit tracks cache effectiveness per cache name ("latest",
// "payload").
func (p *Provider) RecordCacheHit(ctx context.Context, cache string) {
	if p.cacheHits != nil {
		p.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache)))
	}
}

func (p *Provider) RecordCacheMiss(ctx context.Context, cache string) {
	if p.cacheMisses != nil {
		p.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache)))
	}
}
