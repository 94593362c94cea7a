package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sctrcd/buspass/internal/extract"
	"github.com/sctrcd/buspass/internal/ir"
)

// BatchResult is the outcome of one input in DetermineAll.
type BatchResult struct {
	Index         int
	Determination extract.Determination
	Err           error
}

// DetermineAll runs one determination per input with at most concurrency
// determinations in flight. Results are in input order.
//
// A failed determination is reported in its BatchResult and does not stop
// the others. When ctx ends early, inputs that were never started carry
// the context error and DetermineAll returns it as well.
func (d *Determiner) DetermineAll(ctx context.Context, inputs []ir.IRObject, concurrency int) ([]BatchResult, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}

	results := make([]BatchResult, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	started := 0
	for i, attrs := range inputs {
		if gctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = notDetermined(gctx, i)
				return nil
			}
			det, err := d.Determine(gctx, attrs)
			results[i] = BatchResult{Index: i, Determination: det, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Inputs never started are failures, not "no result".
	for i := started; i < len(inputs); i++ {
		results[i] = notDetermined(gctx, i)
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("batch interrupted: %w", err)
	}
	return results, nil
}

func notDetermined(ctx context.Context, i int) BatchResult {
	return BatchResult{Index: i, Err: fmt.Errorf("not determined: %w", context.Cause(ctx))}
}
