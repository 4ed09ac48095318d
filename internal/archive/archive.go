package archive

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"aura-gateway/internal/metrics"
	"aura-gateway/internal/models"
)

// Sink appends raw telemetry to one audit destination.
type Sink interface {
	Name() string
	Archive(ctx context.Context, event models.TelemetryEvent) error
}

// FanOut writes each event to every sink concurrently. A failing sink does
// not stop the others; all failures are joined into the returned error.
type FanOut struct {
	sinks []Sink
}

func NewFanOut(sinks ...Sink) *FanOut {
	return &FanOut{sinks: sinks}
}

func (f *FanOut) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

func (f *FanOut) Archive(ctx context.Context, event models.TelemetryEvent) error {
	if len(f.sinks) == 0 {
		return nil
	}

	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, sink := range f.sinks {
		g.Go(func() error {
			if err := sink.Archive(ctx, event); err != nil {
				metrics.ArchiveFailed(sink.Name())
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
