package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// InstrumentationName is the tracer and meter scope name.
const InstrumentationName = "github.com/upb/stock-snap"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g., "localhost:4317" for gRPC
	Insecure       bool          // Plaintext gRPC to the collector
	MetricInterval time.Duration // Periodic reader export interval
	Enabled        bool
}

// DefaultConfig returns the defaults used inside the container.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stock_snap_go",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Insecure:       true,
		MetricInterval: 5 * time.Second,
		Enabled:        true,
	}
}

// Provider owns the trace and metric providers for the process lifetime.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *zap.Logger
}

// New creates the providers and their OTLP exporters. Exporters connect
// lazily, so an unreachable collector does not fail startup.
func New(ctx context.Context, config *Config, logger *zap.Logger) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: logger.With(zap.String("component", "observability")),
	}

	if !config.Enabled {
		p.tracer = tracenoop.NewTracerProvider().Tracer(InstrumentationName)
		p.meter = metricnoop.NewMeterProvider().Meter(InstrumentationName)
		p.logger.Info("telemetry export disabled")
		return p, nil
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	)

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}

	if err := p.initMetricProvider(ctx, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(InstrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(InstrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	p.logger.Info("telemetry initialized",
		zap.String("service", config.ServiceName),
		zap.String("endpoint", config.OTLPEndpoint),
		zap.Duration("metric_interval", config.MetricInterval),
		zap.Bool("insecure", config.Insecure),
	)

	return p, nil
}

// NewFromProviders builds a Provider around existing SDK providers. Tests use
// it with in-memory exporters and manual readers.
func NewFromProviders(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider, logger *zap.Logger) *Provider {
	return &Provider{
		config:         &Config{Enabled: true},
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(InstrumentationName),
		meter:          mp.Meter(InstrumentationName),
		logger:         logger,
	}
}

// initTraceProvider initializes the batching trace provider.
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

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return nil
}

// initMetricProvider initializes the periodic-export metric provider.
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

	interval := p.config.MetricInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	)
	return nil
}

// Tracer returns the tracer handlers should use.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter the metrics registry is built on.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Shutdown flushes pending spans and metrics and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
