// trapper pushes metric samples to a Zabbix-style trapper collector.
//
//	trapper send [flags] KEY VALUE   send one sample and exit
//	trapper report [flags]           gather host/libvirt samples and send them
//	trapper version [flags]          print build and endpoint information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"kvm-trapper-agent/internal/agent"
	"kvm-trapper-agent/internal/agent/version"
	"kvm-trapper-agent/internal/collector"
	"kvm-trapper-agent/internal/config"
	"kvm-trapper-agent/internal/model"
	"kvm-trapper-agent/internal/telemetry"
)

const serviceName = "kvm-trapper-agent"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	if len(args) == 0 {
		usage(stderr)
		return 1
	}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "send":
		err = runSend(ctx, rest, getenv)
	case "report":
		err = runReport(ctx, rest, getenv)
	case "version":
		err = runVersion(rest, stdout, getenv)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "trapper: unknown command %q\n", cmd)
		usage(stderr)
		return 1
	}
	if errors.Is(err, pflag.ErrHelp) {
		usage(stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "trapper %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: trapper <send KEY VALUE|report|version> [flags]")
	fmt.Fprintln(w)
	fmt.Fprint(w, config.FlagUsages("trapper"))
}

func runSend(ctx context.Context, args []string, getenv func(string) string) error {
	cfg, rest, err := config.Load("trapper send", args, getenv)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("expected KEY VALUE, got %d arguments", len(rest))
	}
	// One sample, one cycle.
	cfg.ReportInterval = 0
	return report(ctx, cfg, collector.NewStatic("cli", model.NewSample(rest[0], rest[1])))
}

func runReport(ctx context.Context, args []string, getenv func(string) string) error {
	cfg, rest, err := config.Load("trapper report", args, getenv)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("unexpected arguments: %v", rest)
	}
	return report(ctx, cfg)
}

func report(ctx context.Context, cfg config.Config, collectors ...collector.Collector) error {
	logger := agent.BuildLogger(cfg)

	tcfg := cfg.Telemetry
	tcfg.ServiceName = serviceName
	tcfg.ServiceVersion = cfg.AgentVersion
	providers, err := telemetry.Setup(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	a, err := agent.New(cfg, logger, providers, collectors...)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return err
	}
	return a.Run(ctx)
}

func runVersion(args []string, stdout io.Writer, getenv func(string) string) error {
	cfg, _, err := config.Load("trapper version", args, getenv)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(version.Get(cfg))
}
