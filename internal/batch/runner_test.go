package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func quietRunner() *Runner {
	return NewRunner("test", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunIsolatesFailures(t *testing.T) {
	boom := errors.New("number of payments is zero")
	var seen []int64
	res := quietRunner().Run(context.Background(), []int64{1, 17, 3}, func(_ context.Context, id int64) error {
		seen = append(seen, id)
		if id == 17 {
			return boom
		}
		return nil
	})

	require.Equal(t, []int64{1, 17, 3}, seen)
	require.Equal(t, []int64{1, 3}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	require.Equal(t, int64(17), res.Failed[0].ID)
	require.ErrorIs(t, res.Failed[0].Err(), boom)
	require.Equal(t, boom.Error(), res.Failed[0].Error)
	require.False(t, res.Stopped)
	require.Equal(t, 3, res.Processed())
	require.NotEmpty(t, res.RunID)
}

func TestRunStopsBetweenRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var innerErr error
	res := quietRunner().Run(ctx, []int64{1, 2, 3, 4}, func(recCtx context.Context, id int64) error {
		if id == 2 {
			cancel()
			// The record in flight keeps a live context.
			innerErr = recCtx.Err()
		}
		return nil
	})

	require.NoError(t, innerErr)
	require.True(t, res.Stopped)
	require.Equal(t, []int64{1, 2}, res.Succeeded)
	require.Empty(t, res.Failed)
	require.Equal(t, 4, res.Total)
}

func TestRunRecoversPanics(t *testing.T) {
	var observed []int64
	r := quietRunner()
	r.OnRecord = func(id int64, err error) {
		if err != nil {
			observed = append(observed, id)
		}
	}
	res := r.Run(context.Background(), []int64{5, 6}, func(_ context.Context, id int64) error {
		if id == 5 {
			panic("nil template")
		}
		return nil
	})
	require.Equal(t, []int64{6}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	var pe *PanicError
	require.ErrorAs(t, res.Failed[0].Err(), &pe)
	require.Equal(t, int64(5), pe.ID)
	require.Equal(t, []int64{5}, observed)
}

func TestRunEmpty(t *testing.T) {
	res := quietRunner().Run(context.Background(), nil, func(context.Context, int64) error { return nil })
	require.Zero(t, res.Processed())
	require.NotNil(t, res.Succeeded)
	require.NotNil(t, res.Failed)
}
