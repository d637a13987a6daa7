// Package telemetry wires OpenTelemetry metrics and tracing for the service.
//
// Metrics go to Prometheus (served by Handler), stdout or OTLP; traces go to
// stdout or OTLP. "none" installs no-op providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config selects exporters.
type Config struct {
	ServiceName     string
	Version         string
	MetricsExporter string // prometheus|stdout|otlp|none
	TracingExporter string // stdout|otlp|none
}

var validMetricsExporters = map[string]bool{
	"prometheus": true,
	"stdout":     true,
	"otlp":       true,
	"none":       true,
	"":           true,
}

var validTracingExporters = map[string]bool{
	"stdout": true,
	"otlp":   true,
	"none":   true,
	"":       true,
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("telemetry: service name is required")
	}
	if !validMetricsExporters[c.MetricsExporter] {
		return fmt.Errorf("telemetry: unknown metrics exporter: %q", c.MetricsExporter)
	}
	if !validTracingExporters[c.TracingExporter] {
		return fmt.Errorf("telemetry: unknown tracing exporter: %q", c.TracingExporter)
	}
	return nil
}

// Provider owns the meter and tracer providers for the process.
type Provider struct {
	meter          metric.Meter
	tracer         trace.Tracer
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	registry       *prometheus.Registry
}

// New builds a Provider from cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		return nil, err
	}
	if err := p.setupTracing(ctx, cfg, res); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	return p, nil
}

// Noop returns a Provider that records nothing.
func Noop() *Provider {
	return &Provider{
		meter:  noop.NewMeterProvider().Meter("noop"),
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (p *Provider) setupMetrics(ctx context.Context, cfg Config, res *resource.Resource) error {
	var reader sdkmetric.Reader
	switch cfg.MetricsExporter {
	case "prometheus":
		p.registry = prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return fmt.Errorf("telemetry: create prometheus exporter: %w", err)
		}
		reader = exp
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return fmt.Errorf("telemetry: create stdout metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case "otlp":
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return fmt.Errorf("telemetry: create OTLP metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	default:
		p.meter = noop.NewMeterProvider().Meter("noop")
		return nil
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(cfg.ServiceName)
	return nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg Config, res *resource.Resource) error {
	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.TracingExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx)
	default:
		p.tracer = tracenoop.NewTracerProvider().Tracer("noop")
		return nil
	}
	if err != nil {
		return fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(cfg.ServiceName)
	return nil
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Handler serves the Prometheus exposition format. It is nil unless the
// prometheus exporter is selected.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers. It returns every error
// encountered, joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
