package utils

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// SettleAll runs fn for every item with at most limit calls in flight and
// waits for all of them. A failing call never cancels its siblings; the
// failures are combined and returned once everything has settled.
func SettleAll[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	if limit <= 0 {
		limit = 1
	}

	var (
		mu   sync.Mutex
		errs error
	)

	var g errgroup.Group
	g.SetLimit(limit)

	for _, item := range items {
		g.Go(func() error {
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()

	return errs
}
