package agent

import (
	"context"
	"fmt"
	"time"

	"kvm-trapper-agent/internal/collector"
	"kvm-trapper-agent/internal/config"
	"kvm-trapper-agent/internal/model"
	"kvm-trapper-agent/internal/trapper"
)

// CycleResult describes one report cycle.
type CycleResult struct {
	Endpoint model.Endpoint
	Identity string
	Gathered int
	Sent     int
	// Result is "ok" or the trapper.Result category of the failure.
	Result string
}

// RunOnce resolves the endpoint, gathers samples and sends them over a
// single Trapper that is always stopped before returning. The first send
// failure aborts the cycle.
func (a *Agent) RunOnce(ctx context.Context) (res CycleResult, err error) {
	defer func() {
		if res.Result == "" {
			res.Result = trapper.Result(err)
		}
		a.health.MarkCycle(res.Sent, res.Result, time.Now())
	}()

	resolved, err := config.Resolve(config.Explicit{}, a.cfg.Properties, a.cfg.Defaults())
	if err != nil {
		return res, err
	}
	res.Endpoint = resolved.Endpoint
	res.Identity = resolved.Identity

	samples, err := collector.Gather(ctx, a.logger, a.collectors...)
	if err != nil {
		return res, fmt.Errorf("gather samples: %w", err)
	}
	res.Gathered = len(samples)
	if len(samples) == 0 {
		a.logger.Debug("no samples to report")
		return res, nil
	}

	t, err := trapper.New(ctx, resolved.Endpoint, resolved.Identity, a.trapperOptions()...)
	if err != nil {
		return res, err
	}
	defer t.Stop()

	for _, s := range samples {
		if err := t.Send(ctx, s.Key, s.Value); err != nil {
			a.logger.Warn("sample not delivered",
				"endpoint", resolved.Endpoint.String(),
				"key", s.Key,
				"result", trapper.Result(err),
				"error", err,
			)
			return res, err
		}
		res.Sent++
	}
	a.logger.Debug("report cycle done", "endpoint", t.Endpoint().String(), "identity", t.Identity(), "sent", res.Sent)
	return res, nil
}

func (a *Agent) trapperOptions() []trapper.Option {
	// Validated in New.
	mode, _ := trapper.ParseConnectMode(a.cfg.ConnectMode)
	return []trapper.Option{
		trapper.WithConnectMode(mode),
		trapper.WithDialTimeout(a.cfg.DialTimeout),
		trapper.WithWriteTimeout(a.cfg.WriteTimeout),
		trapper.WithLogger(a.logger),
		trapper.WithMeterProvider(a.providers.MeterProvider),
		trapper.WithTracerProvider(a.providers.TracerProvider),
	}
}
