// Package transport abstracts the message-passing runtime that connects the
// machines of a distributed run.
//
// A Comm is one machine's endpoint. Point-to-point sends are asynchronous and
// FIFO per (sender, receiver) pair; collectives block until every machine has
// called them. Any participant can Abort the run, after which every blocked
// or future call on every endpoint fails with ErrAborted, so a failure on one
// machine never leaves the others stuck in a barrier.
package transport

import (
	"context"
	"errors"
)

// ErrAborted is returned by every operation once the run has been aborted.
var ErrAborted = errors.New("transport: run aborted")

// ErrTransport wraps runtime failures such as an invalid destination.
var ErrTransport = errors.New("transport failure")

// Comm is a machine's view of the message-passing runtime.
type Comm interface {
	// Rank is this machine's index in [0, Size).
	Rank() int
	// Size is the number of machines.
	Size() int
	// ThreadSafe reports whether Send and Recv may be called concurrently
	// from different goroutines.
	ThreadSafe() bool

	// Send queues buf for dst. The buffer is owned by the runtime afterwards.
	Send(ctx context.Context, dst int, buf []byte) error
	// Recv blocks until a message arrives.
	Recv(ctx context.Context) (src int, buf []byte, err error)
	// TryRecv returns ok=false when nothing is queued.
	TryRecv() (src int, buf []byte, ok bool, err error)

	// Barrier returns once every machine has entered it.
	Barrier(ctx context.Context) error
	// AllreduceMin returns the minimum of v over all machines.
	AllreduceMin(ctx context.Context, v int64) (int64, error)
	// ReduceScatterSum takes one count per destination machine and returns,
	// on each machine, the sum of the counts addressed to it.
	ReduceScatterSum(ctx context.Context, counts []int64) (int64, error)

	// Abort fails every pending and future operation on every machine.
	Abort(err error)
}
