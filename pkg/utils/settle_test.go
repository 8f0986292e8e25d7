package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestSettleAll_RunsEveryItemDespiteFailures(t *testing.T) {
	var calls, inFlight, maxInFlight atomic.Int32

	items := []int{1, 2, 3, 4, 5, 6}
	err := SettleAll(context.Background(), 2, items, func(_ context.Context, n int) error {
		calls.Add(1)
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		defer inFlight.Add(-1)

		if n%2 == 0 {
			return errors.New("restore failed")
		}
		return nil
	})

	require.Equal(t, int32(6), calls.Load())
	require.LessOrEqual(t, maxInFlight.Load(), int32(2))
	require.Len(t, multierr.Errors(err), 3)
}

func TestSettleAll_Empty(t *testing.T) {
	err := SettleAll(context.Background(), 4, []string(nil), func(context.Context, string) error {
		t.Fatal("unexpected call")
		return nil
	})
	require.NoError(t, err)
}
