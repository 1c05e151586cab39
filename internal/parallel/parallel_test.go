package parallel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapVisitsEveryIndex(t *testing.T) {
	for _, workers := range []int{0, 1, 4} {
		out := make([]int, 100)
		err := Map(context.Background(), workers, len(out), func(i int) error {
			out[i] = i + 1
			return nil
		})
		require.NoError(t, err)
		for i, v := range out {
			require.Equal(t, i+1, v, "workers=%d index=%d", workers, i)
		}
	}
}

func TestMapPropagatesFirstError(t *testing.T) {
	errBoom := errors.New("boom")
	err := Map(context.Background(), 4, 50, func(i int) error {
		if i == 17 {
			return errBoom
		}
		return nil
	})
	require.ErrorIs(t, err, errBoom)
}

func TestMapSequentialStopsAtError(t *testing.T) {
	errBoom := errors.New("boom")
	var calls int
	err := Map(context.Background(), 1, 10, func(i int) error {
		calls++
		if i == 3 {
			return errBoom
		}
		return nil
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 4, calls)
}

func TestMapHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Map(ctx, 1, 10, func(i int) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestMapZeroItems(t *testing.T) {
	require.NoError(t, Map(context.Background(), 4, 0, func(i int) error {
		t.Fatal("fn must not be called")
		return nil
	}))
}
