package version

import (
	"encoding/json"
	"strings"
	"testing"

	"kvm-trapper-agent/internal/config"
	"kvm-trapper-agent/internal/model"
)

func TestGet(t *testing.T) {
	cfg := config.Default()
	cfg.Hostname = "hv1"
	cfg.Properties.Set(config.PropPort, "20051")

	info := Get(cfg)
	if info.AgentVersion != config.HardcodedVersion {
		t.Errorf("AgentVersion = %q, want %q", info.AgentVersion, config.HardcodedVersion)
	}
	if info.Endpoint == nil || *info.Endpoint != (model.Endpoint{Host: "localhost", Port: 20051}) {
		t.Errorf("Endpoint = %v, want localhost:20051", info.Endpoint)
	}
	if info.Hostname != "hv1" || info.GoVersion == "" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestGet_InvalidOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Properties.Set(config.PropPort, "not-a-port")
	if got := Get(cfg).Endpoint; got != nil {
		t.Errorf("Endpoint = %v, want nil for invalid port", got)
	}
}

func TestInfo_JSON(t *testing.T) {
	cfg := config.Default()
	cfg.Properties.Set(config.PropServer, "zbx.example")
	b, err := json.Marshal(Get(cfg))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"endpoint":{"host":"zbx.example","port":10051}`) {
		t.Errorf("unexpected JSON: %s", b)
	}
}
