package trapper

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "kvm-trapper-agent/internal/trapper"

type instruments struct {
	tracer   trace.Tracer
	sends    metric.Int64Counter
	connects metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*instruments, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		in  = &instruments{tracer: tp.Tracer(instrumentationName)}
		err error
	)
	in.sends, err = meter.Int64Counter(
		"trapper.sends",
		metric.WithDescription("Trapper send attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create send counter: %w", err)
	}
	in.connects, err = meter.Int64Counter(
		"trapper.connects",
		metric.WithDescription("Trapper TCP connection attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create connect counter: %w", err)
	}
	in.duration, err = meter.Float64Histogram(
		"trapper.send.duration",
		metric.WithDescription("Time spent in Send, including connection setup"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create send duration histogram: %w", err)
	}
	return in, nil
}

func (in *instruments) startSend(ctx context.Context, endpoint, key string) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, "trapper.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("trapper.endpoint", endpoint),
			attribute.String("trapper.key", key),
		),
	)
}

func (in *instruments) endSend(ctx context.Context, span trace.Span, start time.Time, err error) {
	res := attribute.String("result", Result(err))
	in.sends.Add(ctx, 1, metric.WithAttributes(res))
	in.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), metric.WithAttributes(res))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Result(err))
	}
	span.End()
}

func (in *instruments) recordConnect(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	in.connects.Add(ctx, 1, metric.WithAttributes(attribute.String("result", status)))
}
