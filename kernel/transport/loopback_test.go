package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopback_SendRecv_FIFOPerPair(t *testing.T) {
	eps := NewLoopback(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, eps[0].Send(ctx, 1, []byte{byte(i)}))
	}
	for i := 0; i < 5; i++ {
		src, buf, err := eps[1].Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, src)
		assert.Equal(t, []byte{byte(i)}, buf)
	}
	_, _, ok, err := eps[1].TryRecv()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoopback_Send_InvalidRank(t *testing.T) {
	eps := NewLoopback(2)
	err := eps[0].Send(context.Background(), 2, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestLoopback_Recv_HonoursContext(t *testing.T) {
	eps := NewLoopback(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := eps[0].Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// runAll calls fn on every endpoint concurrently and collects the results.
func runAll[T any](eps []*Loopback, fn func(l *Loopback) (T, error)) ([]T, []error) {
	out := make([]T, len(eps))
	errs := make([]error, len(eps))
	var wg sync.WaitGroup
	for i, l := range eps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i], errs[i] = fn(l)
		}()
	}
	wg.Wait()
	return out, errs
}

func TestLoopback_Collectives(t *testing.T) {
	eps := NewLoopback(3)
	ctx := context.Background()

	mins, errs := runAll(eps, func(l *Loopback) (int64, error) {
		return l.AllreduceMin(ctx, int64(10-l.Rank()))
	})
	for i := range eps {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(8), mins[i])
	}

	// rank r sends r+1 messages to every other rank
	sums, errs := runAll(eps, func(l *Loopback) (int64, error) {
		counts := make([]int64, l.Size())
		for dst := range counts {
			if dst != l.Rank() {
				counts[dst] = int64(l.Rank() + 1)
			}
		}
		return l.ReduceScatterSum(ctx, counts)
	})
	for i := range eps {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, []int64{5, 4, 3}, sums)

	_, errs = runAll(eps, func(l *Loopback) (struct{}, error) {
		return struct{}{}, l.Barrier(ctx)
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestLoopback_Abort_UnblocksBarrier(t *testing.T) {
	eps := NewLoopback(2)
	done := make(chan error, 1)
	go func() { done <- eps[0].Barrier(context.Background()) }()

	eps[1].Abort(errors.New("boom"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("barrier did not observe abort")
	}
	assert.ErrorIs(t, eps[1].Send(context.Background(), 0, nil), ErrAborted)
}
