package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

func (a *Agent) runHealthListener(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen health endpoint %s: %w", addr, err)
	}
	a.logger.Info("health endpoint listening", "addr", ln.Addr().String())
	return a.serveHealth(ctx, ln)
}

// serveHealth answers every connection with one health line and closes it.
func (a *Agent) serveHealth(ctx context.Context, ln net.Listener) error {
	defer func() { _ = ln.Close() }()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept health endpoint %s: %w", ln.Addr(), acceptErr)
		}

		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Write([]byte(a.health.StatusLine()))
		_ = conn.Close()
	}
}
