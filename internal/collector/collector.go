// Package collector turns metric sources into trapper samples.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"kvm-trapper-agent/internal/model"
)

type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]model.Sample, error)
}

// ErrNoSamples is returned by Gather when every collector failed.
var ErrNoSamples = errors.New("no collector produced samples")

// Gather runs collectors concurrently. A failing collector is logged and
// skipped; the result keeps the collectors' order.
func Gather(ctx context.Context, logger *slog.Logger, collectors ...Collector) ([]model.Sample, error) {
	if len(collectors) == 0 {
		return nil, nil
	}
	results := make([][]model.Sample, len(collectors))
	errs := make([]error, len(collectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range collectors {
		g.Go(func() error {
			samples, err := c.Collect(gctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", c.Name(), err)
				logger.Warn("collector failed", "collector", c.Name(), "error", err)
				return nil
			}
			results[i] = samples
			return nil
		})
	}
	_ = g.Wait()

	var out []model.Sample
	failed := 0
	for i := range collectors {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == len(collectors) {
		return nil, fmt.Errorf("%w: %w", ErrNoSamples, errors.Join(errs...))
	}
	return out, nil
}

// Static returns a fixed set of samples.
type Static struct {
	name    string
	samples []model.Sample
}

func NewStatic(name string, samples ...model.Sample) *Static {
	return &Static{name: name, samples: samples}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Collect(context.Context) ([]model.Sample, error) {
	return append([]model.Sample(nil), s.samples...), nil
}
