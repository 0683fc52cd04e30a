package instrumentz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Exporter ships finished spans to a backend.
type Exporter interface {
	Export(ctx context.Context, spans []FinishedSpan) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, spans []FinishedSpan) error

// Export implements Exporter.
func (f ExporterFunc) Export(ctx context.Context, spans []FinishedSpan) error {
	return f(ctx, spans)
}

// exportAll hands spans to every exporter concurrently and joins their failures.
// Each exporter gets its own copy of the batch.
func exportAll(ctx context.Context, exporters []Exporter, spans []FinishedSpan) error {
	if len(exporters) == 0 || len(spans) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, exp := range exporters {
		batch := make([]FinishedSpan, len(spans))
		for j := range spans {
			batch[j] = spans[j].clone()
		}
		g.Go(func() error {
			if err := exp.Export(gctx, batch); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("instrumentz: exporter %d: %w", i, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
