// Package trappertest provides an in-process collector that records what
// trappers send, for use in tests.
package trappertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"kvm-trapper-agent/internal/model"
	"kvm-trapper-agent/internal/trapper"
)

const readIdleTimeout = 5 * time.Second

// Request is one decoded trapper request.
type Request struct {
	Identity string
	Key      string
	Value    string
}

// Listener accepts trapper connections and keeps the bytes of every
// connection once the peer closes it.
type Listener struct {
	ln net.Listener

	mu       sync.Mutex
	payloads [][]byte
	changed  chan struct{}

	wg sync.WaitGroup
}

// Listen starts a Listener on a random loopback port and closes it when tb
// finishes.
func Listen(tb testing.TB) *Listener {
	tb.Helper()
	l, err := ListenAddr("127.0.0.1:0")
	if err != nil {
		tb.Fatalf("trappertest: %v", err)
	}
	tb.Cleanup(func() { _ = l.Close() })
	return l
}

func ListenAddr(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	l := &Listener{ln: ln, changed: make(chan struct{})}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *Listener) Endpoint() model.Endpoint {
	return model.Endpoint{Host: "127.0.0.1", Port: l.Port()}
}

// Payloads returns the raw bytes of each finished connection, in the order
// the connections ended.
func (l *Listener) Payloads() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.payloads))
	for i, p := range l.payloads {
		out[i] = bytes.Clone(p)
	}
	return out
}

// Requests decodes every request received so far. A connection may carry
// several requests back to back.
func (l *Listener) Requests() ([]Request, error) {
	var out []Request
	for _, p := range l.Payloads() {
		reqs, err := SplitRequests(p)
		if err != nil {
			return nil, err
		}
		out = append(out, reqs...)
	}
	return out, nil
}

// Wait blocks until at least n connections have finished or ctx is done.
func (l *Listener) Wait(ctx context.Context, n int) ([][]byte, error) {
	for {
		l.mu.Lock()
		count := len(l.payloads)
		changed := l.changed
		l.mu.Unlock()
		if count >= n {
			return l.Payloads(), nil
		}
		select {
		case <-ctx.Done():
			return l.Payloads(), fmt.Errorf("waiting for %d connections, got %d: %w", n, count, ctx.Err())
		case <-changed:
		}
	}
}

func (l *Listener) Close() error {
	err := l.ln.Close()
	l.wg.Wait()
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()
	defer func() { _ = conn.Close() }()

	var buf bytes.Buffer
	chunk := make([]byte, 1024)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])
		// EOF, reset and idle timeout all end the connection.
		if err != nil {
			break
		}
	}

	l.mu.Lock()
	l.payloads = append(l.payloads, buf.Bytes())
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

// SplitRequests decodes back-to-back requests in p.
func SplitRequests(p []byte) ([]Request, error) {
	const closing = "</req>"
	var out []Request
	for len(p) > 0 {
		i := bytes.Index(p, []byte(closing))
		if i < 0 {
			return nil, fmt.Errorf("%w: trailing %d bytes", trapper.ErrMalformed, len(p))
		}
		end := i + len(closing)
		identity, key, value, err := trapper.Decode(p[:end])
		if err != nil {
			return nil, err
		}
		out = append(out, Request{Identity: identity, Key: key, Value: value})
		p = p[end:]
	}
	return out, nil
}
