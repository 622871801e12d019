package kernel

import (
	"context"
	"sync"
)

// Barrier is a reusable rendezvous for the universes of one machine. The last
// goroutine to arrive is the leader: it runs the action while the others are
// parked, then releases everyone. An action error, a recovered action panic or
// Abort fails the barrier for good.
type Barrier struct {
	n int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64
	err     error
}

func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until n goroutines have arrived. Only the leader's action runs;
// followers may pass nil.
func (b *Barrier) Wait(ctx context.Context, action func() error) error {
	b.mu.Lock()
	if b.err != nil {
		defer b.mu.Unlock()
		return b.err
	}
	gen := b.gen
	b.arrived++
	if b.arrived == b.n {
		b.mu.Unlock()
		err := b.lead(action)
		b.mu.Lock()
		defer b.mu.Unlock()
		if err != nil && b.err == nil {
			b.err = err
		}
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		return b.err
	}
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { b.Abort(ctx.Err()) })
	defer stop()
	b.mu.Lock()
	defer b.mu.Unlock()
	for gen == b.gen && b.err == nil {
		b.cond.Wait()
	}
	return b.err
}

func (b *Barrier) lead(action func() error) (err error) {
	if action == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(-1, r)
		}
	}()
	return action()
}

// Abort fails every current and future Wait with err.
func (b *Barrier) Abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
}

// Err returns the error the barrier failed with, if any.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
