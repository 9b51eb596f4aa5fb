package version

import (
	"runtime"
	"time"

	"kvm-trapper-agent/internal/config"
	"kvm-trapper-agent/internal/model"
)

type Info struct {
	AgentVersion  string          `json:"agent_version"`
	Hostname      string          `json:"hostname"`
	Endpoint      *model.Endpoint `json:"endpoint,omitempty"`
	ConnectMode   string          `json:"connect_mode"`
	Collectors    []string        `json:"collectors"`
	GoVersion     string          `json:"go_version"`
	CheckedAtUnix int64           `json:"checked_at_unix"`
}

// Get describes the running build and the endpoint cfg resolves to. An
// unresolvable endpoint leaves Endpoint nil.
func Get(cfg config.Config) Info {
	info := Info{
		AgentVersion:  cfg.AgentVersion,
		Hostname:      cfg.Hostname,
		ConnectMode:   cfg.ConnectMode,
		Collectors:    cfg.Collectors,
		GoVersion:     runtime.Version(),
		CheckedAtUnix: time.Now().UTC().Unix(),
	}
	if res, err := config.Resolve(config.Explicit{}, cfg.Properties, cfg.Defaults()); err == nil {
		info.Endpoint = &res.Endpoint
	}
	return info
}
