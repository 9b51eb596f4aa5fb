package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"kvm-trapper-agent/internal/collector"
	"kvm-trapper-agent/internal/config"
	"kvm-trapper-agent/internal/model"
	"kvm-trapper-agent/internal/trapper"
	"kvm-trapper-agent/internal/trappertest"
)

func testConfig(port int) config.Config {
	cfg := config.Default()
	cfg.Hostname = "hv1"
	cfg.Properties.Set(config.PropServer, "127.0.0.1")
	cfg.Properties.Set(config.PropPort, strconv.Itoa(port))
	cfg.DialTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := trappertest.ListenAddr("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Port()
	_ = l.Close()
	return port
}

func TestRunOnce_SendsAllSamplesOnOneConnection(t *testing.T) {
	l := trappertest.Listen(t)
	static := collector.NewStatic("static",
		model.NewSample("foo", "bar"),
		model.NewSample("system.uptime", "42"),
	)
	a, err := New(testConfig(l.Port()), nil, nil, static)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Sent != 2 || res.Gathered != 2 || res.Result != "ok" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Identity != "hv1" || res.Endpoint != l.Endpoint() {
		t.Errorf("resolved %s as %q, want %s as hv1", res.Endpoint, res.Identity, l.Endpoint())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payloads, err := l.Wait(ctx, 1)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("got %d connections, want 1", len(payloads))
	}
	want := append(trapper.Encode("hv1", "foo", "bar"), trapper.Encode("hv1", "system.uptime", "42")...)
	if !bytes.Equal(payloads[0], want) {
		t.Errorf("payload = %q, want %q", payloads[0], want)
	}
	if got := a.Health().CyclesOK(); got != 1 {
		t.Errorf("CyclesOK = %d, want 1", got)
	}
}

func TestRunOnce_ConnectionError(t *testing.T) {
	a, err := New(testConfig(closedPort(t)), nil, nil, collector.NewStatic("s", model.NewSample("k", "v")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := a.RunOnce(context.Background())
	if !errors.Is(err, trapper.ErrConnection) {
		t.Fatalf("RunOnce error = %v, want ErrConnection", err)
	}
	if res.Result != "connection_error" || res.Sent != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	h := a.Health()
	if h.CyclesFailed() != 1 || h.LastResult() != "connection_error" {
		t.Errorf("health = %v", h.Snapshot())
	}
}

func TestRunOnce_InvalidOverride(t *testing.T) {
	cfg := testConfig(1)
	cfg.Properties.Set(config.PropPort, "70000")
	a, err := New(cfg, nil, nil, collector.NewStatic("s", model.NewSample("k", "v")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.RunOnce(context.Background()); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("RunOnce error = %v, want ErrInvalid", err)
	}
}

func TestRunOnce_NoSamplesSkipsConnect(t *testing.T) {
	l := trappertest.Listen(t)
	a, err := New(testConfig(l.Port()), nil, nil, collector.NewStatic("empty"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Sent != 0 {
		t.Errorf("Sent = %d, want 0", res.Sent)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(l.Payloads()); n != 0 {
		t.Errorf("listener saw %d connections, want 0", n)
	}
}

func TestRun_SingleCycleReturnsError(t *testing.T) {
	a, err := New(testConfig(closedPort(t)), nil, nil, collector.NewStatic("s", model.NewSample("k", "v")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); !errors.Is(err, trapper.ErrConnection) {
		t.Fatalf("Run error = %v, want ErrConnection", err)
	}
}

func TestRun_IntervalKeepsReporting(t *testing.T) {
	l := trappertest.Listen(t)
	cfg := testConfig(l.Port())
	cfg.ReportInterval = 20 * time.Millisecond
	a, err := New(cfg, nil, nil, collector.NewStatic("s", model.NewSample("k", "v")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if _, err := l.Wait(waitCtx, 3); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if got := a.Health().CyclesOK(); got < 3 {
		t.Errorf("CyclesOK = %d, want >= 3", got)
	}
}

func TestNew_BuildsConfiguredCollectors(t *testing.T) {
	cfg := testConfig(1)
	cfg.Collectors = []string{config.CollectorHost, config.CollectorLibvirt, config.CollectorDomains}
	a, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(a.collectors) != 3 || a.conn == nil {
		t.Fatalf("collectors = %d, conn = %v", len(a.collectors), a.conn)
	}
	for i, want := range []string{"host", "libvirt", "domains"} {
		if got := a.collectors[i].Name(); got != want {
			t.Errorf("collector %d = %s, want %s", i, got, want)
		}
	}
}

func TestNew_RejectsBadConnectMode(t *testing.T) {
	cfg := testConfig(1)
	cfg.ConnectMode = "sometimes"
	if _, err := New(cfg, nil, nil); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("New error = %v, want ErrInvalid", err)
	}
}

func TestBuildLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogLevel = "warn"
	cfg.LogJSON = true
	logger := buildLogger(cfg, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("expected JSON warn record, got %s", out)
	}
}

func readHealth(t *testing.T, addr string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial health endpoint: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read health endpoint: %v", err)
	}
	return string(b)
}

func TestServeHealth_ReportsStatus(t *testing.T) {
	a, err := New(testConfig(closedPort(t)), nil, nil, collector.NewStatic("s", model.NewSample("k", "v")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serveHealth(ctx, ln) }()

	if got, want := readHealth(t, ln.Addr().String()), "trapper-agent:ok cycles_ok=0 cycles_failed=0 samples_sent=0 last_result=none\n"; got != want {
		t.Errorf("status before any cycle = %q, want %q", got, want)
	}

	if _, err := a.RunOnce(context.Background()); err == nil {
		t.Fatal("expected the cycle to fail against a closed port")
	}
	if got, want := readHealth(t, ln.Addr().String()), "trapper-agent:degraded cycles_ok=0 cycles_failed=1 samples_sent=0 last_result=connection_error\n"; got != want {
		t.Errorf("status after failed cycle = %q, want %q", got, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serveHealth returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveHealth did not stop after cancel")
	}
}

func TestRun_HealthListenFailureStopsAgent(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	l := trappertest.Listen(t)
	cfg := testConfig(l.Port())
	cfg.ReportInterval = time.Hour
	cfg.HealthListenAddr = busy.Addr().String()
	a, err := New(cfg, nil, nil, collector.NewStatic("s", model.NewSample("k", "v")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "listen health endpoint") {
		t.Fatalf("Run error = %v, want health listen failure", err)
	}
}
