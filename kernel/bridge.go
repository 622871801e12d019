package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pdes/kernel/transport"
	"github.com/inference-sim/pdes/kernel/wire"
)

const (
	flagNull uint8 = 1 << 0

	// maxBatchBytes bounds a single transport message.
	maxBatchBytes = 64 << 20

	combinedPollInterval = 200 * time.Microsecond
)

// packChannelEvent appends one channel event in wire form.
func packChannelEvent(p *wire.Packer, e *Event) error {
	portal := int32(-1)
	if e.portal != nil {
		portal = e.portal.id
	}
	var flags uint8
	if e.IsNull() {
		flags |= flagNull
	}
	p.PutInt32(e.gate.id)
	p.PutInt32(portal)
	p.PutInt64(int64(e.stamp.Time))
	p.PutUint32(e.stamp.Owner)
	p.PutUint64(e.stamp.Seq)
	p.PutUint8(flags)
	if flags&flagNull != 0 {
		return nil
	}
	return packPayload(p, e.payload)
}

// unpackChannelEvent reads one event written by packChannelEvent and binds it
// to this machine's copy of its gate and portal.
func unpackChannelEvent(u *wire.Unpacker, topo *Topology) (*Event, error) {
	gid := u.Int32()
	pid := u.Int32()
	t := VirtualTime(u.Int64())
	owner := u.Uint32()
	seq := u.Uint64()
	flags := u.Uint8()
	if err := u.Err(); err != nil {
		return nil, err
	}
	if gid < 0 || int(gid) >= len(topo.gates) {
		return nil, fmt.Errorf("%w: unknown gate %d", transport.ErrTransport, gid)
	}
	g := topo.gates[gid]
	if flags&flagNull != 0 {
		return newNullEvent(t, g), nil
	}
	if pid < 0 || int(pid) >= len(topo.portals) || topo.portals[pid].gate != g {
		return nil, fmt.Errorf("%w: portal %d does not belong to gate %d", transport.ErrTransport, pid, gid)
	}
	pl, err := unpackPayload(u)
	if err != nil {
		return nil, err
	}
	portal := topo.portals[pid]
	e := newEvent(KindChannel, Timestamp{Time: t, Owner: owner, Seq: seq})
	e.payload = pl
	e.portal = portal
	e.gate = g
	e.realTime = portal.realTime
	return e, nil
}

// bridge moves events between this machine's outbox and the other machines.
// Per destination it accumulates a batch (a uint32 event count followed by
// the events) and sends it when it grows past the pack threshold or when the
// outbox runs dry.
type bridge struct {
	comm      transport.Comm
	topo      *Topology
	outbox    *Mailbox
	threshold int
	log       *logrus.Entry

	batches []*wire.Packer
	counts  []uint32
	countAt []int

	mu         sync.Mutex
	cond       *sync.Cond
	flushed    int64   // events taken from the outbox and handed to comm
	sent       []int64 // cumulative events sent per destination
	received   int64
	batchesOut int64
	batchesIn  int64
}

func newBridge(comm transport.Comm, topo *Topology, outbox *Mailbox, threshold int) *bridge {
	n := comm.Size()
	b := &bridge{
		comm:      comm,
		topo:      topo,
		outbox:    outbox,
		threshold: threshold,
		log:       logrus.WithField("machine", comm.Rank()),
		batches:   make([]*wire.Packer, n),
		counts:    make([]uint32, n),
		countAt:   make([]int, n),
		sent:      make([]int64, n),
	}
	for i := range b.batches {
		b.batches[i] = wire.NewPacker(threshold + threshold/4)
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *bridge) runWriter(ctx context.Context) error {
	for {
		c, ok := b.outbox.blockingPop()
		if !ok {
			return nil
		}
		if err := b.writeChain(ctx, c); err != nil {
			return err
		}
	}
}

func (b *bridge) runReader(ctx context.Context) error {
	for {
		src, buf, err := b.comm.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := b.readBatch(src, buf); err != nil {
			return err
		}
	}
}

// runCombined serves both directions from one goroutine, polling when idle.
func (b *bridge) runCombined(ctx context.Context) error {
	for {
		idle := true
		if c := b.outbox.tryPop(); !c.empty() {
			idle = false
			if err := b.writeChain(ctx, c); err != nil {
				return err
			}
		}
		for {
			src, buf, ok, err := b.comm.TryRecv()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if !ok {
				break
			}
			idle = false
			if err := b.readBatch(src, buf); err != nil {
				return err
			}
		}
		if idle {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(combinedPollInterval):
			}
		}
	}
}

func (b *bridge) writeChain(ctx context.Context, c eventChain) error {
	var err error
	n := c.n
	c.each(func(e *Event) {
		if err != nil {
			return
		}
		dst := e.gate.dst.machine
		p := b.batches[dst]
		if b.counts[dst] == 0 {
			b.countAt[dst] = p.Reserve32()
		}
		if err = packChannelEvent(p, e); err != nil {
			return
		}
		b.counts[dst]++
		if p.Len() >= b.threshold {
			err = b.flush(ctx, dst)
		}
	})
	if err != nil {
		return err
	}
	// the outbox is momentarily empty: nothing may linger in a batch
	for dst := range b.batches {
		if b.counts[dst] > 0 {
			if err := b.flush(ctx, dst); err != nil {
				return err
			}
		}
	}
	b.mu.Lock()
	b.flushed += int64(n)
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

func (b *bridge) flush(ctx context.Context, dst int) error {
	p := b.batches[dst]
	if p.Len() > maxBatchBytes {
		return fmt.Errorf("%w: batch for machine %d is %d bytes, limit %d", transport.ErrTransport, dst, p.Len(), maxBatchBytes)
	}
	count := b.counts[dst]
	p.Patch32(b.countAt[dst], count)
	buf := append([]byte(nil), p.Bytes()...)
	p.Reset()
	b.counts[dst] = 0
	if err := b.comm.Send(ctx, dst, buf); err != nil {
		return fmt.Errorf("send batch to machine %d: %w", dst, err)
	}
	b.mu.Lock()
	b.sent[dst] += int64(count)
	b.batchesOut++
	b.mu.Unlock()
	return nil
}

func (b *bridge) readBatch(src int, buf []byte) error {
	u := wire.NewUnpacker(buf)
	n := u.Uint32()
	if err := u.Err(); err != nil {
		return fmt.Errorf("batch from machine %d: %w", src, err)
	}
	for i := uint32(0); i < n; i++ {
		e, err := unpackChannelEvent(u, b.topo)
		if err != nil {
			return fmt.Errorf("batch from machine %d, event %d: %w", src, i, err)
		}
		if e.gate.mailbox == nil {
			return fmt.Errorf("%w: %s is not hosted on machine %d", transport.ErrTransport, e.gate, b.comm.Rank())
		}
		e.gate.mailbox.Push(e)
	}
	b.mu.Lock()
	b.received += int64(n)
	b.batchesIn++
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

// waitFor blocks until cond holds, the context ends or the bridge stops.
func (b *bridge) waitFor(ctx context.Context, cond func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()
	b.mu.Lock()
	defer b.mu.Unlock()
	for !cond() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	return nil
}

// reconcile makes every cross-machine event sent so far visible at its
// target: flush the outbox, agree on how many events each machine must
// receive, wait for them, then synchronize.
func (b *bridge) reconcile(ctx context.Context) error {
	pushed := b.outbox.Total()
	if err := b.waitFor(ctx, func() bool { return b.flushed >= pushed }); err != nil {
		return fmt.Errorf("flush outbox: %w", err)
	}
	b.mu.Lock()
	sent := append([]int64(nil), b.sent...)
	b.mu.Unlock()
	expect, err := b.comm.ReduceScatterSum(ctx, sent)
	if err != nil {
		return fmt.Errorf("reduce sent counts: %w", err)
	}
	if err := b.waitFor(ctx, func() bool { return b.received >= expect }); err != nil {
		return fmt.Errorf("wait for %d inbound events: %w", expect, err)
	}
	if err := b.comm.Barrier(ctx); err != nil {
		return fmt.Errorf("machine barrier: %w", err)
	}
	return nil
}

type bridgeStats struct {
	sent, received        int64
	batchesOut, batchesIn int64
}

func (b *bridge) stats() bridgeStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sent int64
	for _, n := range b.sent {
		sent += n
	}
	return bridgeStats{sent: sent, received: b.received, batchesOut: b.batchesOut, batchesIn: b.batchesIn}
}
