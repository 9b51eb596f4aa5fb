package agent

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"kvm-trapper-agent/internal/collector"
	"kvm-trapper-agent/internal/config"
	"kvm-trapper-agent/internal/libvirt"
	"kvm-trapper-agent/internal/telemetry"
	"kvm-trapper-agent/internal/trapper"
)

const (
	libvirtRetryWait   = 500 * time.Millisecond
	libvirtMaxJitter   = 250 * time.Millisecond
	libvirtMaxAttempts = 3
)

// Agent gathers samples from its collectors and reports them to the
// collector server through a fresh Trapper per cycle.
type Agent struct {
	cfg        config.Config
	logger     *slog.Logger
	providers  *telemetry.Providers
	collectors []collector.Collector
	conn       *libvirt.ConnManager
	health     *HealthStatus
}

// New builds an Agent. With no collectors given, the ones named in
// cfg.Collectors are created.
func New(cfg config.Config, logger *slog.Logger, providers *telemetry.Providers, collectors ...collector.Collector) (*Agent, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if providers == nil {
		providers = telemetry.Noop()
	}
	if _, err := trapper.ParseConnectMode(cfg.ConnectMode); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	a := &Agent{
		cfg:        cfg,
		logger:     logger,
		providers:  providers,
		collectors: collectors,
		health:     NewHealthStatus(),
	}
	if len(a.collectors) == 0 {
		if err := a.buildCollectors(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) buildCollectors() error {
	for _, name := range a.cfg.Collectors {
		switch name {
		case config.CollectorHost:
			a.collectors = append(a.collectors, collector.NewHostCollector())
		case config.CollectorLibvirt:
			reader := libvirt.NewNodeReader(a.libvirtConn(), a.logger)
			a.collectors = append(a.collectors, collector.NewNodeCollector(reader))
		case config.CollectorDomains:
			reader := libvirt.NewDomainReader(a.libvirtConn(), a.logger)
			a.collectors = append(a.collectors, collector.NewDomainCollector(reader))
		default:
			return fmt.Errorf("%w: unsupported collector %q", config.ErrInvalid, name)
		}
	}
	return nil
}

// libvirtConn returns the connection shared by all libvirt collectors.
func (a *Agent) libvirtConn() *libvirt.ConnManager {
	if a.conn == nil {
		a.conn = libvirt.NewConnManager(a.cfg.LibvirtURI, libvirtRetryWait, libvirtMaxJitter, libvirtMaxAttempts, a.logger)
	}
	return a.conn
}

func (a *Agent) Health() *HealthStatus { return a.health }

// BuildLogger returns a logger writing to stderr at cfg.LogLevel.
func BuildLogger(cfg config.Config) *slog.Logger {
	return buildLogger(cfg, os.Stderr)
}

func buildLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}
