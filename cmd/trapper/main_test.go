package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"kvm-trapper-agent/internal/agent/version"
	"kvm-trapper-agent/internal/trappertest"
)

func emptyEnv(string) string { return "" }

func TestRun_SendDeliversPayload(t *testing.T) {
	l := trappertest.Listen(t)
	var stdout, stderr bytes.Buffer
	args := []string{"send", "--server", "127.0.0.1", "--port", strconv.Itoa(l.Port()), "--host", "foo", "bar", "baz"}

	if code := run(context.Background(), args, &stdout, &stderr, emptyEnv); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payloads, err := l.Wait(ctx, 1)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := "<req><host>Zm9v</host><key>YmFy</key><data>YmF6</data></req>"
	if got := string(payloads[0]); got != want {
		t.Errorf("payload = %q, want %q", got, want)
	}
}

func TestRun_SendPortFromEnv(t *testing.T) {
	l := trappertest.Listen(t)
	env := map[string]string{
		"TRAPPER_SERVER": "127.0.0.1",
		"TRAPPER_PORT":   strconv.Itoa(l.Port()),
		"TRAPPER_HOST":   "foo",
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"send", "bar", "baz"}, &stdout, &stderr, func(k string) string { return env[k] })
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := l.Wait(ctx, 1); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	reqs, err := l.Requests()
	if err != nil {
		t.Fatalf("Requests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Identity != "foo" || reqs[0].Key != "bar" || reqs[0].Value != "baz" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"send without value", []string{"send", "only-key"}},
		{"invalid port override", []string{"send", "--port", "0x", "k", "v"}},
		{"report with arguments", []string{"report", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr, emptyEnv); code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if stderr.Len() == 0 {
				t.Error("expected a message on stderr")
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"version", "--port", "20051"}, &stdout, &stderr, emptyEnv); code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	var info version.Info
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("decode version output: %v", err)
	}
	if info.Endpoint == nil || info.Endpoint.Port != 20051 || info.AgentVersion == "" {
		t.Errorf("unexpected version info: %+v", info)
	}
}
