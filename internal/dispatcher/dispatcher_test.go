// Package dispatcher contains tests for bounded fan-out.
package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestForEachRespectsLimit ensures no more than limit calls run at once.
func TestForEachRespectsLimit(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	items := make([]int, 20)
	err := ForEach(context.Background(), 3, items, func(_ context.Context, _ int, _ int) error {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Positive(t, peak.Load())
}

// TestForEachRunsEveryItem verifies one failure does not stop the others.
func TestForEachRunsEveryItem(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	boom := errors.New("boom")
	err := ForEach(context.Background(), 2, []int{1, 2, 3, 4}, func(_ context.Context, _ int, item int) error {
		calls.Add(1)
		if item == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(4), calls.Load())
}

// TestForEachStopsOnCanceledContext checks nothing starts once ctx is done.
func TestForEachStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err := ForEach(ctx, 2, []int{1, 2, 3}, func(context.Context, int, int) error {
		calls.Add(1)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls.Load())
}

// TestMapPreservesOrder checks results line up with inputs regardless of completion order.
func TestMapPreservesOrder(t *testing.T) {
	t.Parallel()

	items := []int{30, 10, 20}
	out, err := Map(context.Background(), 3, items, func(_ context.Context, ms int) int {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return ms * 2
	})
	require.NoError(t, err)
	require.Equal(t, []int{60, 20, 40}, out)
}

func TestForEachZeroLimitRunsSerially(t *testing.T) {
	t.Parallel()

	var order []int
	err := ForEach(context.Background(), 0, []int{1, 2, 3}, func(_ context.Context, _ int, item int) error {
		order = append(order, item)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, order)
}
