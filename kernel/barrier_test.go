package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarrier_LeaderRunsActionOncePerGeneration(t *testing.T) {
	const n, rounds = 4, 50
	b := NewBarrier(n)
	var actions int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				err := b.Wait(context.Background(), func() error {
					actions++
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, rounds, actions)
}

func TestBarrier_ActionErrorFailsEveryone(t *testing.T) {
	b := NewBarrier(3)
	boom := errors.New("boom")
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			errs <- b.Wait(context.Background(), func() error { return boom })
		}()
	}
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-errs, boom)
	}
	assert.ErrorIs(t, b.Wait(context.Background(), nil), boom, "failed for good")
}

func TestBarrier_ActionPanicBecomesError(t *testing.T) {
	b := NewBarrier(1)
	err := b.Wait(context.Background(), func() error { panic("leader broke") })
	var ie *InvariantError
	assert.ErrorAs(t, err, &ie)
}

func TestBarrier_AbortAndCancelUnblockWaiters(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		b := NewBarrier(2)
		done := make(chan error, 1)
		go func() { done <- b.Wait(context.Background(), nil) }()
		cause := errors.New("remote failure")
		b.Abort(cause)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, cause)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter not released")
		}
		assert.ErrorIs(t, b.Err(), cause)
	})
	t.Run("context", func(t *testing.T) {
		b := NewBarrier(2)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, b.Wait(ctx, nil), context.DeadlineExceeded)
	})
}
