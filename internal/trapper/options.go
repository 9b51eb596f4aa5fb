package trapper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ConnectMode chooses when the TCP connection is opened.
type ConnectMode int

const (
	// ConnectLazy dials on the first Send. This is the default.
	ConnectLazy ConnectMode = iota
	// ConnectEager dials inside New and fails construction if the collector
	// is unreachable.
	ConnectEager
)

func (m ConnectMode) String() string {
	switch m {
	case ConnectLazy:
		return "lazy"
	case ConnectEager:
		return "eager"
	}
	return fmt.Sprintf("ConnectMode(%d)", int(m))
}

func ParseConnectMode(s string) (ConnectMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lazy":
		return ConnectLazy, nil
	case "eager":
		return ConnectEager, nil
	}
	return ConnectLazy, fmt.Errorf("unknown connect mode %q", s)
}

// Dialer opens the outbound connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

type options struct {
	mode           ConnectMode
	dialer         Dialer
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

type Option func(*options)

func WithConnectMode(m ConnectMode) Option {
	return func(o *options) { o.mode = m }
}

func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithDialTimeout bounds connection setup. Zero leaves only ctx in charge.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithWriteTimeout bounds each Send's write. Zero leaves only ctx in charge.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

func defaultOptions() options {
	return options{
		mode:         ConnectLazy,
		dialer:       &net.Dialer{},
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.New(slog.DiscardHandler),
	}
}
