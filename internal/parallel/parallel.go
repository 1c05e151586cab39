// Package parallel provides a bounded, order-preserving parallel map used
// for per-spectrum work. Each unit of work is pure given its index and the
// shared read-only configuration, so no locking is required; callers write
// results into per-index slots.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map invokes fn for every index in [0, n) using at most workers
// goroutines and returns the first error encountered. When workers <= 1
// the calls run sequentially in the caller; results must be identical
// between the two modes since fn is pure per index.
func Map(ctx context.Context, workers, n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}

	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}
	return g.Wait()
}
