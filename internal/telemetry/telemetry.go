// Package telemetry builds the OpenTelemetry meter and tracer providers used
// to instrument trapper sends.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ExporterType selects where metrics and spans go.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

func (e ExporterType) Valid() bool {
	switch e {
	case ExporterNone, ExporterStdout, ExporterOTLPGRPC, ExporterOTLPHTTP:
		return true
	}
	return false
}

type Config struct {
	Exporter       ExporterType `yaml:"exporter"`
	Endpoint       string       `yaml:"endpoint"`
	Insecure       bool         `yaml:"insecure"`
	ServiceName    string       `yaml:"-"`
	ServiceVersion string       `yaml:"-"`
}

// Providers bundles the meter and tracer providers handed to trappers.
type Providers struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	shutdown       []func(context.Context) error
}

// Noop returns providers that record nothing.
func Noop() *Providers {
	return &Providers{
		MeterProvider:  metricnoop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	}
}

func (p *Providers) Enabled() bool {
	return len(p.shutdown) > 0
}

// Setup creates providers for cfg. ExporterNone (or empty) yields no-op providers.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return Noop(), nil
	}
	if !cfg.Exporter.Valid() {
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	metricExp, err := newMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	traceExp, err := newTraceExporter(ctx, cfg)
	if err != nil {
		_ = metricExp.Shutdown(ctx)
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	return &Providers{
		MeterProvider:  mp,
		TracerProvider: tp,
		shutdown:       []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// Shutdown flushes and stops the exporters. Safe on no-op providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

func newResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "kvm-trapper-agent"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}

func newMetricExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
}

func newTraceExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdouttrace.New()
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
}
