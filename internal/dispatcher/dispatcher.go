// Package dispatcher provides the bounded fan-out used for connector runs,
// pending item processing, and liveness probes.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ForEach calls fn for every item with at most limit calls in flight. It
// waits for all started calls and returns the first error any of them
// returned. Once ctx is done no further items are started and the context
// error is returned.
func ForEach[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, index int, item T) error) error {
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	var dispatchErr error
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			dispatchErr = fmt.Errorf("dispatch item %d: %w", i, err)
			break
		}
		g.Go(func() error {
			return fn(ctx, i, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return dispatchErr
}

// Map runs fn over items with at most limit calls in flight and returns the
// results in input order. Items skipped because ctx finished hold the zero value.
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) R) ([]R, error) {
	results := make([]R, len(items))
	err := ForEach(ctx, limit, items, func(ctx context.Context, i int, item T) error {
		results[i] = fn(ctx, item)
		return nil
	})
	return results, err
}
