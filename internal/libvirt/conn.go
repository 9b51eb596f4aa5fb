package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// ConnManager owns a single libvirt RPC connection. It connects lazily and
// gives up after a bounded number of attempts. A cached client that no
// longer answers is dropped and redialed on the next Client call.
type ConnManager struct {
	mu          sync.Mutex
	client      *golibvirt.Libvirt
	uri         string
	logger      *slog.Logger
	retryWait   time.Duration
	maxJitter   time.Duration
	maxAttempts int
	randSrc     *rand.Rand
	dial        func(*url.URL) (*golibvirt.Libvirt, error)
	ping        func(*golibvirt.Libvirt) error
}

func NewConnManager(uri string, retryWait, maxJitter time.Duration, maxAttempts int, logger *slog.Logger) *ConnManager {
	if retryWait <= 0 {
		retryWait = time.Second
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &ConnManager{
		uri:         uri,
		logger:      logger,
		retryWait:   retryWait,
		maxJitter:   maxJitter,
		maxAttempts: maxAttempts,
		randSrc:     rand.New(rand.NewSource(time.Now().UnixNano())),
		dial: func(u *url.URL) (*golibvirt.Libvirt, error) {
			return golibvirt.ConnectToURI(u)
		},
		ping: func(c *golibvirt.Libvirt) error {
			_, err := c.Version()
			return err
		},
	}
}

func (m *ConnManager) Client(ctx context.Context) (*golibvirt.Libvirt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		err := m.ping(m.client)
		if err == nil {
			return m.client, nil
		}
		m.logger.Warn("libvirt connection lost, reconnecting", "error", err)
		m.dropLocked()
	}
	if err := m.connectLocked(ctx); err != nil {
		return nil, err
	}
	return m.client, nil
}

func (m *ConnManager) dropLocked() {
	if m.client == nil {
		return
	}
	if err := m.client.Disconnect(); err != nil {
		m.logger.Debug("libvirt disconnect failed", "error", err)
	}
	m.client = nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect()
	m.client = nil
	return err
}

func (m *ConnManager) connectLocked(ctx context.Context) error {
	uri, err := ParseURI(m.uri)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, dialErr := m.dial(uri)
		if dialErr == nil {
			m.client = c
			m.logger.Info("libvirt connected", "uri", uri.Redacted())
			return nil
		}
		lastErr = dialErr
		if attempt == m.maxAttempts {
			break
		}

		wait := m.retryWait + m.jitter()
		m.logger.Warn("libvirt connect failed", "uri", uri.Redacted(), "attempt", attempt, "error", dialErr, "retry_in", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("libvirt connect %s: %w", uri.Redacted(), lastErr)
}

// ParseURI parses a libvirt URI, falling back to qemu:///system when raw is
// empty or has no scheme.
func ParseURI(raw string) (*url.URL, error) {
	if raw == "" {
		raw = string(golibvirt.QEMUSystem)
	}
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if uri.Scheme == "" {
		uri, err = url.Parse(string(golibvirt.QEMUSystem))
		if err != nil {
			return nil, errors.New("parse fallback libvirt uri")
		}
	}
	return uri, nil
}

func (m *ConnManager) jitter() time.Duration {
	if m.maxJitter == 0 {
		return 0
	}
	return time.Duration(m.randSrc.Int63n(int64(m.maxJitter)))
}
