// Package trapper pushes key/value samples to a Zabbix-style collector over
// a single TCP connection.
//
// A Trapper moves through three states:
//
//	Unconnected --Send/New(eager)--> Connected --Stop or write error--> Closed
//	Unconnected --Stop--> Closed
//
// A failed dial leaves the trapper Unconnected, so the next Send dials again.
// A failed write closes the socket and the trapper for good; callers build a
// new Trapper for the next reporting cycle. Closed is terminal.
//
// Send and Stop are serialised by a mutex, so one Trapper may be shared
// between goroutines. Payloads from concurrent Sends never interleave.
package trapper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"kvm-trapper-agent/internal/config"
	"kvm-trapper-agent/internal/model"
)

type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Trapper struct {
	mu sync.Mutex

	endpoint model.Endpoint
	identity string
	opts     options
	inst     *instruments

	state State
	conn  net.Conn
}

// New builds a Trapper that reports as identity to endpoint. With
// ConnectEager it dials before returning; ctx bounds only that dial.
func New(ctx context.Context, endpoint model.Endpoint, identity string, opts ...Option) (*Trapper, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: reporting identity is empty", config.ErrInvalid)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = &net.Dialer{}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	inst, err := newInstruments(o.meterProvider, o.tracerProvider)
	if err != nil {
		return nil, err
	}

	t := &Trapper{
		endpoint: endpoint,
		identity: identity,
		opts:     o,
		inst:     inst,
		state:    StateUnconnected,
	}
	if o.mode == ConnectEager {
		t.mu.Lock()
		err := t.connectLocked(ctx)
		t.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Open resolves the endpoint and identity from explicit arguments, props and
// the built-in defaults, then calls New.
func Open(ctx context.Context, explicit config.Explicit, props *config.Properties, opts ...Option) (*Trapper, error) {
	res, err := config.Resolve(explicit, props, config.DefaultDefaults())
	if err != nil {
		return nil, err
	}
	return New(ctx, res.Endpoint, res.Identity, opts...)
}

func (t *Trapper) Endpoint() model.Endpoint { return t.endpoint }

func (t *Trapper) Identity() string { return t.identity }

func (t *Trapper) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Send writes one request for key and value, dialing first if needed.
// ctx bounds the dial and, through its deadline, the write. A write that
// hits the ctx deadline is a send failure like any other: it returns ErrSend
// and closes the trapper.
func (t *Trapper) Send(ctx context.Context, key, value string) (err error) {
	start := time.Now()
	ctx, span := t.inst.startSend(ctx, t.endpoint.Address(), key)
	defer func() { t.inst.endSend(ctx, span, start, err) }()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateClosed:
		return fmt.Errorf("%w: cannot send %q", ErrClosed, key)
	case StateUnconnected:
		if err := t.connectLocked(ctx); err != nil {
			return err
		}
	}

	payload := Encode(t.identity, key, value)
	if err := t.writeLocked(ctx, payload); err != nil {
		t.opts.logger.Warn("trapper write failed, closing connection",
			"addr", t.endpoint.Address(), "key", key, "error", err)
		t.closeLocked()
		return fmt.Errorf("%w: write %q to %s: %w", ErrSend, key, t.endpoint.Address(), err)
	}
	t.opts.logger.Debug("trapper sample sent", "addr", t.endpoint.Address(), "key", key, "bytes", len(payload))
	return nil
}

// Stop releases the socket and moves the trapper to Closed. Repeated calls
// are no-ops.
func (t *Trapper) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

// Close implements io.Closer; it is Stop and never fails.
func (t *Trapper) Close() error {
	t.Stop()
	return nil
}

func (t *Trapper) connectLocked(ctx context.Context) error {
	addr := t.endpoint.Address()
	dialCtx := ctx
	if t.opts.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.dialTimeout)
		defer cancel()
	}

	conn, err := t.opts.dialer.DialContext(dialCtx, "tcp", addr)
	t.inst.recordConnect(ctx, err)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnection, addr, err)
	}
	t.conn = conn
	t.state = StateConnected
	t.opts.logger.Debug("trapper connected", "addr", addr, "identity", t.identity)
	return nil
}

func (t *Trapper) writeLocked(ctx context.Context, payload []byte) error {
	var deadline time.Time
	if t.opts.writeTimeout > 0 {
		deadline = time.Now().Add(t.opts.writeTimeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return writeFull(t.conn, payload)
}

// closeLocked releases the socket exactly once and makes the trapper Closed.
func (t *Trapper) closeLocked() {
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.opts.logger.Debug("trapper close failed", "addr", t.endpoint.Address(), "error", err)
		}
		t.conn = nil
		t.opts.logger.Debug("trapper disconnected", "addr", t.endpoint.Address())
	}
	t.state = StateClosed
}

// writeFull keeps writing until p is flushed or w fails.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
