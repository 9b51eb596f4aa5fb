package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"kvm-trapper-agent/internal/telemetry"
)

const (
	ConnectModeLazy  = "lazy"
	ConnectModeEager = "eager"

	CollectorHost    = "host"
	CollectorLibvirt = "libvirt"
	CollectorDomains = "domains"

	HardcodedVersion = "V0.3"
)

// Config is the process-wide configuration. It is read once at startup from
// a YAML file, TRAPPER_* environment variables and command-line flags (in
// increasing priority). Nothing below cmd/ reads the environment directly.
type Config struct {
	Properties       *Properties
	Hostname         string
	ConnectMode      string
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	LogLevel         string
	LogJSON          bool
	LibvirtURI       string
	ReportInterval   time.Duration
	ShutdownTimeout  time.Duration
	HealthListenAddr string
	Collectors       []string
	Telemetry        telemetry.Config
	AgentVersion     string
}

type fileConfig struct {
	Server           *string          `yaml:"server"`
	Port             *string          `yaml:"port"`
	Host             *string          `yaml:"host"`
	ConnectMode      string           `yaml:"connect_mode"`
	DialTimeout      string           `yaml:"dial_timeout"`
	WriteTimeout     string           `yaml:"write_timeout"`
	LogLevel         string           `yaml:"log_level"`
	LogJSON          *bool            `yaml:"log_json"`
	LibvirtURI       string           `yaml:"libvirt_uri"`
	ReportInterval   string           `yaml:"report_interval"`
	ShutdownTimeout  string           `yaml:"shutdown_timeout"`
	HealthListenAddr string           `yaml:"health_addr"`
	Collectors       []string         `yaml:"collectors"`
	Telemetry        telemetry.Config `yaml:"telemetry"`
}

type flagValues struct {
	configPath      string
	server          string
	port            string
	host            string
	connectMode     string
	dialTimeout     time.Duration
	writeTimeout    time.Duration
	logLevel        string
	logJSON         bool
	libvirtURI      string
	reportInterval  time.Duration
	shutdownTimeout time.Duration
	healthAddr      string
	collectors      []string
	otelExporter    string
	otelEndpoint    string
	otelInsecure    bool
}

func Default() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return Config{
		Properties:      NewProperties(),
		Hostname:        hostname,
		ConnectMode:     ConnectModeLazy,
		DialTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		LogLevel:        "info",
		LogJSON:         false,
		LibvirtURI:      "qemu+unix:///system",
		ReportInterval:  0,
		ShutdownTimeout: 10 * time.Second,
		Collectors:      []string{CollectorHost},
		Telemetry:       telemetry.Config{Exporter: telemetry.ExporterNone},
		AgentVersion:    HardcodedVersion,
	}
}

// Load builds a Config from args and getenv and returns the positional
// arguments left after flag parsing. pflag.ErrHelp is returned unwrapped.
func Load(name string, args []string, getenv func(string) string) (Config, []string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	var fv flagValues
	addFlags(fs, &fv)
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	path := env(getenv, "TRAPPER_CONFIG", "")
	if fs.Changed("config") {
		path = fv.configPath
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, nil, err
	}
	cfg.applyFlags(fs, &fv)

	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

// FlagUsages renders the flag help shared by every subcommand.
func FlagUsages(name string) string {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	addFlags(fs, &flagValues{})
	return fs.FlagUsages()
}

func addFlags(fs *pflag.FlagSet, fv *flagValues) {
	fs.StringVar(&fv.configPath, "config", "", "path to a YAML config file (env TRAPPER_CONFIG)")
	fs.StringVarP(&fv.server, "server", "s", "", "collector hostname or IP (default localhost)")
	fs.StringVarP(&fv.port, "port", "p", "", "collector trapper port (default 10051)")
	fs.StringVar(&fv.host, "host", "", "reporting identity (default: this machine's hostname)")
	fs.StringVar(&fv.connectMode, "connect-mode", "", "lazy or eager")
	fs.DurationVar(&fv.dialTimeout, "dial-timeout", 0, "TCP connect timeout")
	fs.DurationVar(&fv.writeTimeout, "write-timeout", 0, "TCP write timeout")
	fs.StringVar(&fv.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&fv.logJSON, "log-json", false, "emit JSON log records")
	fs.StringVar(&fv.libvirtURI, "libvirt-uri", "", "libvirt connection URI")
	fs.DurationVar(&fv.reportInterval, "interval", 0, "report interval; 0 runs a single cycle")
	fs.DurationVar(&fv.shutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	fs.StringVar(&fv.healthAddr, "health-addr", "", "TCP address serving agent health; empty disables")
	fs.StringSliceVar(&fv.collectors, "collectors", nil, "metric sources: host, libvirt, domains")
	fs.StringVar(&fv.otelExporter, "otel-exporter", "", "none, stdout, otlp-grpc or otlp-http")
	fs.StringVar(&fv.otelEndpoint, "otel-endpoint", "", "OTLP endpoint")
	fs.BoolVar(&fv.otelInsecure, "otel-insecure", false, "disable TLS for OTLP")
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Server != nil {
		c.Properties.Set(PropServer, *fc.Server)
	}
	if fc.Port != nil {
		c.Properties.Set(PropPort, *fc.Port)
	}
	if fc.Host != nil {
		c.Properties.Set(PropHost, *fc.Host)
	}
	if fc.ConnectMode != "" {
		c.ConnectMode = strings.ToLower(fc.ConnectMode)
	}
	if fc.LogLevel != "" {
		c.LogLevel = strings.ToLower(fc.LogLevel)
	}
	if fc.LogJSON != nil {
		c.LogJSON = *fc.LogJSON
	}
	if fc.LibvirtURI != "" {
		c.LibvirtURI = fc.LibvirtURI
	}
	if fc.HealthListenAddr != "" {
		c.HealthListenAddr = fc.HealthListenAddr
	}
	if len(fc.Collectors) > 0 {
		c.Collectors = normalizeList(fc.Collectors)
	}
	if fc.Telemetry.Exporter != "" {
		c.Telemetry.Exporter = fc.Telemetry.Exporter
	}
	if fc.Telemetry.Endpoint != "" {
		c.Telemetry.Endpoint = fc.Telemetry.Endpoint
	}
	if fc.Telemetry.Insecure {
		c.Telemetry.Insecure = true
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"dial_timeout", fc.DialTimeout, &c.DialTimeout},
		{"write_timeout", fc.WriteTimeout, &c.WriteTimeout},
		{"report_interval", fc.ReportInterval, &c.ReportInterval},
		{"shutdown_timeout", fc.ShutdownTimeout, &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := env(getenv, "TRAPPER_SERVER", ""); v != "" {
		c.Properties.Set(PropServer, v)
	}
	if v := env(getenv, "TRAPPER_PORT", ""); v != "" {
		c.Properties.Set(PropPort, v)
	}
	if v := env(getenv, "TRAPPER_HOST", ""); v != "" {
		c.Properties.Set(PropHost, v)
	}
	c.ConnectMode = strings.ToLower(env(getenv, "TRAPPER_CONNECT_MODE", c.ConnectMode))
	c.LogLevel = strings.ToLower(env(getenv, "TRAPPER_LOG_LEVEL", c.LogLevel))
	c.LibvirtURI = env(getenv, "TRAPPER_LIBVIRT_URI", c.LibvirtURI)
	c.HealthListenAddr = env(getenv, "TRAPPER_HEALTH_ADDR", c.HealthListenAddr)
	c.Telemetry.Exporter = telemetry.ExporterType(strings.ToLower(env(getenv, "TRAPPER_OTEL_EXPORTER", string(c.Telemetry.Exporter))))
	c.Telemetry.Endpoint = env(getenv, "TRAPPER_OTEL_ENDPOINT", c.Telemetry.Endpoint)
	if v := env(getenv, "TRAPPER_COLLECTORS", ""); v != "" {
		c.Collectors = normalizeList(strings.Split(v, ","))
	}

	var err error
	if c.LogJSON, err = envBool(getenv, "TRAPPER_LOG_JSON", c.LogJSON); err != nil {
		return err
	}
	if c.Telemetry.Insecure, err = envBool(getenv, "TRAPPER_OTEL_INSECURE", c.Telemetry.Insecure); err != nil {
		return err
	}
	if c.DialTimeout, err = envDuration(getenv, "TRAPPER_DIAL_TIMEOUT", c.DialTimeout); err != nil {
		return err
	}
	if c.WriteTimeout, err = envDuration(getenv, "TRAPPER_WRITE_TIMEOUT", c.WriteTimeout); err != nil {
		return err
	}
	if c.ReportInterval, err = envDuration(getenv, "TRAPPER_REPORT_INTERVAL", c.ReportInterval); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = envDuration(getenv, "TRAPPER_SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

// applyFlags copies only the flags the user actually set, so an explicit
// empty --server or --host still reaches Resolve as a present override.
func (c *Config) applyFlags(fs *pflag.FlagSet, fv *flagValues) {
	if fs.Changed("server") {
		c.Properties.Set(PropServer, fv.server)
	}
	if fs.Changed("port") {
		c.Properties.Set(PropPort, fv.port)
	}
	if fs.Changed("host") {
		c.Properties.Set(PropHost, fv.host)
	}
	if fs.Changed("connect-mode") {
		c.ConnectMode = strings.ToLower(fv.connectMode)
	}
	if fs.Changed("dial-timeout") {
		c.DialTimeout = fv.dialTimeout
	}
	if fs.Changed("write-timeout") {
		c.WriteTimeout = fv.writeTimeout
	}
	if fs.Changed("log-level") {
		c.LogLevel = strings.ToLower(fv.logLevel)
	}
	if fs.Changed("log-json") {
		c.LogJSON = fv.logJSON
	}
	if fs.Changed("libvirt-uri") {
		c.LibvirtURI = fv.libvirtURI
	}
	if fs.Changed("interval") {
		c.ReportInterval = fv.reportInterval
	}
	if fs.Changed("shutdown-timeout") {
		c.ShutdownTimeout = fv.shutdownTimeout
	}
	if fs.Changed("health-addr") {
		c.HealthListenAddr = fv.healthAddr
	}
	if fs.Changed("collectors") {
		c.Collectors = normalizeList(fv.collectors)
	}
	if fs.Changed("otel-exporter") {
		c.Telemetry.Exporter = telemetry.ExporterType(strings.ToLower(fv.otelExporter))
	}
	if fs.Changed("otel-endpoint") {
		c.Telemetry.Endpoint = fv.otelEndpoint
	}
	if fs.Changed("otel-insecure") {
		c.Telemetry.Insecure = fv.otelInsecure
	}
}

func (c Config) Validate() error {
	switch c.ConnectMode {
	case ConnectModeLazy, ConnectModeEager:
	default:
		return fmt.Errorf("unsupported connect mode %q", c.ConnectMode)
	}
	if c.DialTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("dial and write timeouts must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("TRAPPER_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.ReportInterval < 0 {
		return errors.New("TRAPPER_REPORT_INTERVAL must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	for _, name := range c.Collectors {
		switch name {
		case CollectorHost:
		case CollectorLibvirt, CollectorDomains:
			if strings.TrimSpace(c.LibvirtURI) == "" {
				return errors.New("TRAPPER_LIBVIRT_URI is required for the libvirt collector")
			}
		default:
			return fmt.Errorf("unsupported collector %q", name)
		}
	}
	if !c.Telemetry.Exporter.Valid() {
		return fmt.Errorf("unsupported telemetry exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

// Defaults returns the resolver defaults, using this machine's hostname as
// the reporting identity.
func (c Config) Defaults() Defaults {
	d := DefaultDefaults()
	d.Identity = c.Hostname
	return d
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func env(getenv func(string) string, key, fallback string) string {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(getenv func(string) string, key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return fallback, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
}

func envDuration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if secs, convErr := strconv.Atoi(v); convErr == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
