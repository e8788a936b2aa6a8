package enrichment

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel enrichment calls.
const DefaultConcurrency = 4

// EnrichAll enriches units concurrently and returns results keyed by
// identifier.
//
// A failed unit is logged and skipped; one bad unit never aborts the
// batch. Cancelling the context stops scheduling further units.
func EnrichAll(ctx context.Context, enricher Enricher, units []Unit, concurrency int, logger *slog.Logger) map[string]*Result {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*Result, len(units))
	)

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := enricher.EnrichUnit(ctx, unit)
			if err != nil {
				logger.Warn("enrichment failed", "identifier", unit.Identifier, "error", err)
				return nil
			}
			mu.Lock()
			results[unit.Identifier] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
