package transport

import (
	"context"
	"fmt"
	"math"
	"sync"
)

type message struct {
	src int
	buf []byte
}

// network is the shared state behind a group of loopback endpoints.
type network struct {
	size int

	mu    sync.Mutex
	cond  *sync.Cond
	inbox [][]message
	err   error

	// one collective in flight at a time, identified by its generation
	gen     uint64
	arrived int
	pending [][]int64
	last    [][]int64
}

// Loopback is an in-process Comm. A group of endpoints created together
// behaves like a set of machines connected by reliable FIFO links, which is
// what the kernel tests and the single-process CLI run on.
type Loopback struct {
	net  *network
	rank int
}

// NewLoopback creates size connected endpoints, indexed by rank.
func NewLoopback(size int) []*Loopback {
	if size <= 0 {
		panic(fmt.Sprintf("transport: invalid loopback size %d", size))
	}
	n := &network{
		size:    size,
		inbox:   make([][]message, size),
		pending: make([][]int64, size),
	}
	n.cond = sync.NewCond(&n.mu)
	eps := make([]*Loopback, size)
	for i := range eps {
		eps[i] = &Loopback{net: n, rank: i}
	}
	return eps
}

func (l *Loopback) Rank() int        { return l.rank }
func (l *Loopback) Size() int        { return l.net.size }
func (l *Loopback) ThreadSafe() bool { return true }

func (l *Loopback) Send(ctx context.Context, dst int, buf []byte) error {
	n := l.net
	if dst < 0 || dst >= n.size {
		return fmt.Errorf("%w: send to rank %d of %d", ErrTransport, dst, n.size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.inbox[dst] = append(n.inbox[dst], message{src: l.rank, buf: buf})
	n.cond.Broadcast()
	return nil
}

func (l *Loopback) Recv(ctx context.Context) (int, []byte, error) {
	n := l.net
	stop := context.AfterFunc(ctx, n.wake)
	defer stop()
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(n.inbox[l.rank]) == 0 && n.err == nil && ctx.Err() == nil {
		n.cond.Wait()
	}
	if n.err != nil {
		return 0, nil, n.err
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	m := l.popLocked()
	return m.src, m.buf, nil
}

func (l *Loopback) TryRecv() (int, []byte, bool, error) {
	n := l.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0, nil, false, n.err
	}
	if len(n.inbox[l.rank]) == 0 {
		return 0, nil, false, nil
	}
	m := l.popLocked()
	return m.src, m.buf, true, nil
}

func (l *Loopback) popLocked() message {
	q := l.net.inbox[l.rank]
	m := q[0]
	q[0] = message{}
	l.net.inbox[l.rank] = q[1:]
	return m
}

func (l *Loopback) Barrier(ctx context.Context) error {
	_, err := l.net.collective(ctx, l.rank, nil)
	return err
}

func (l *Loopback) AllreduceMin(ctx context.Context, v int64) (int64, error) {
	all, err := l.net.collective(ctx, l.rank, []int64{v})
	if err != nil {
		return 0, err
	}
	out := int64(math.MaxInt64)
	for _, in := range all {
		out = min(out, in[0])
	}
	return out, nil
}

func (l *Loopback) ReduceScatterSum(ctx context.Context, counts []int64) (int64, error) {
	if len(counts) != l.net.size {
		return 0, fmt.Errorf("%w: reduce-scatter with %d counts for %d ranks", ErrTransport, len(counts), l.net.size)
	}
	all, err := l.net.collective(ctx, l.rank, append([]int64(nil), counts...))
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, in := range all {
		sum += in[l.rank]
	}
	return sum, nil
}

func (l *Loopback) Abort(err error) {
	n := l.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err == nil {
		n.err = fmt.Errorf("%w: %v", ErrAborted, err)
	}
	n.cond.Broadcast()
}

func (n *network) wake() {
	n.mu.Lock()
	n.cond.Broadcast()
	n.mu.Unlock()
}

// collective deposits in and blocks until every rank has deposited for the
// same generation, then returns all contributions indexed by rank.
func (n *network) collective(ctx context.Context, rank int, in []int64) ([][]int64, error) {
	stop := context.AfterFunc(ctx, n.wake)
	defer stop()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	gen := n.gen
	n.pending[rank] = in
	n.arrived++
	if n.arrived == n.size {
		n.last = n.pending
		n.pending = make([][]int64, n.size)
		n.arrived = 0
		n.gen++
		n.cond.Broadcast()
		return n.last, nil
	}
	for gen == n.gen && n.err == nil && ctx.Err() == nil {
		n.cond.Wait()
	}
	// the next generation cannot complete without this rank, so last is ours
	if gen != n.gen {
		return n.last, nil
	}
	if n.err != nil {
		return nil, n.err
	}
	return nil, ctx.Err()
}
