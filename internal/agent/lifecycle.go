package agent

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run reports once when cfg.ReportInterval is zero and returns that cycle's
// error. Otherwise it reports every interval until ctx is done or a signal
// arrives; cycle errors are logged and the loop keeps going. In interval mode
// cfg.HealthListenAddr, when set, serves the health line over TCP.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting trapper agent",
		"interval", a.cfg.ReportInterval,
		"collectors", len(a.collectors),
		"version", a.cfg.AgentVersion,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	// Errors caused by our own cancellation are a clean stop.
	if runErr != nil && runCtx.Err() == nil {
		return runErr
	}
	a.logger.Info("trapper agent stopped", "health", a.health.Snapshot())
	return nil
}

func (a *Agent) run(ctx context.Context) error {
	if a.cfg.ReportInterval <= 0 {
		res, err := a.RunOnce(ctx)
		a.logCycle(res, err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runReportLoop(gctx)
	})
	if a.cfg.HealthListenAddr != "" {
		g.Go(func() error {
			return a.runHealthListener(gctx, a.cfg.HealthListenAddr)
		})
	}
	return g.Wait()
}

func (a *Agent) runReportLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.ReportInterval)
	defer t.Stop()

	for {
		res, err := a.RunOnce(ctx)
		a.logCycle(res, err)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (a *Agent) logCycle(res CycleResult, err error) {
	if err != nil {
		a.logger.Error("report cycle failed",
			"endpoint", res.Endpoint.String(),
			"result", res.Result,
			"sent", res.Sent,
			"gathered", res.Gathered,
			"error", err,
		)
		return
	}
	a.logger.Info("report cycle completed",
		"endpoint", res.Endpoint.String(),
		"sent", res.Sent,
	)
	a.logger.Debug("agent health", "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.providers.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn("libvirt close failed", "error", err)
		}
	}
}
