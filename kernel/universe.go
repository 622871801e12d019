package kernel

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Universe is the scheduler of one thread. It owns a disjoint subset of the
// machine's timelines and drives them through every window, exchanging
// synchronous events with the other universes at window boundaries.
type Universe struct {
	id        int
	sim       *Simulation
	timelines []*Timeline

	localBins  *BinQueue // synchronous intra/local events, settled with the decade
	globalBins *BinQueue // synchronous cross-machine events, settled with the epoch

	runnable timelineHeap
	paced    timelineHeap
	blocked  []*Timeline
	woken    []*Timeline
	finished int

	// wake is signalled by mailbox producers; capacity one so a burst of
	// pushes costs a single wakeup.
	wake chan struct{}

	stats universeStats
	log   *logrus.Entry
}

type universeStats struct {
	runs         int64
	blockedWaits int64
	localOut     int64
	globalOut    int64
}

func newUniverse(id int, sim *Simulation) *Universe {
	u := &Universe{
		id:         id,
		sim:        sim,
		localBins:  NewBinQueue(fmt.Sprintf("local/%d.%d", sim.rank, id)),
		globalBins: NewBinQueue(fmt.Sprintf("global/%d.%d", sim.rank, id)),
		wake:       make(chan struct{}, 1),
		log:        logrus.WithFields(logrus.Fields{"machine": sim.rank, "universe": id}),
	}
	u.runnable.less = func(a, b *Timeline) bool {
		if a.clock != b.clock {
			return a.clock < b.clock
		}
		return a.serial < b.serial
	}
	u.paced.less = func(a, b *Timeline) bool {
		return a.paceAt.Before(b.paceAt)
	}
	return u
}

func (u *Universe) ID() int                { return u.id }
func (u *Universe) Timelines() []*Timeline { return u.timelines }

// signal is the mailbox notify hook.
func (u *Universe) signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// wakeTimeline is called when a bound a waiting timeline depends on was
// raised on this thread. The timeline is re-examined by the next handleIO.
func (u *Universe) wakeTimeline(tl *Timeline) {
	if tl.woken {
		return
	}
	tl.woken = true
	u.woken = append(u.woken, tl)
}

func (u *Universe) initialize() {
	start := u.sim.start
	for _, tl := range u.timelines {
		tl.initialize(start)
	}
	if iv := u.sim.cfg.ProgressInterval; iv > 0 {
		for _, tl := range u.timelines {
			if tl.serial == 0 {
				tick := newEvent(KindTick, tl.stamp(start.Add(iv)))
				tick.interval = iv
				if tick.Time() < tl.endTime {
					tl.InsertEvent(tick)
				}
			}
		}
	}
}

// run is the universe goroutine body.
func (u *Universe) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(u.id, r)
		}
	}()
	s := u.sim
	u.initialize()
	for {
		if err := s.barrier.Wait(ctx, s.endWindow); err != nil {
			return err
		}
		w := s.window
		if w.Done {
			break
		}
		u.prepareExchange(w)
		if err := s.barrier.Wait(ctx, s.exchangeWindow); err != nil {
			return err
		}
		u.synchronizeEvents()
		if err := u.runWindow(ctx, w); err != nil {
			return err
		}
	}
	for _, tl := range u.timelines {
		tl.state = StateDone
	}
	return nil
}

// prepareExchange retrieves the synchronous events due in window w.
// Events for other universes go to the exchange table, cross-machine ones to
// the outbox at the start of every epoch.
func (u *Universe) prepareExchange(w Window) {
	row := u.sim.exchange[u.id]
	chainOf(u.localBins.Retrieve(w.End)).each(func(e *Event) {
		dst := e.gate.dst
		if dst.universe == u {
			dst.InsertEvent(e)
		} else {
			row[dst.universe.id].push(e)
		}
		u.stats.localOut++
	})
	if w.EpochBegin {
		out := chainOf(u.globalBins.Retrieve(w.EpochEnd))
		u.stats.globalOut += int64(out.n)
		u.sim.outbox.pushChain(out)
	}
}

// synchronizeEvents collects this universe's column of the exchange table.
func (u *Universe) synchronizeEvents() {
	for src := range u.sim.exchange {
		if src == u.id {
			continue
		}
		u.sim.exchange[src][u.id].take().each(func(e *Event) {
			e.gate.dst.InsertEvent(e)
		})
	}
}

func (u *Universe) runWindow(ctx context.Context, w Window) error {
	u.finished = 0
	u.blocked = u.blocked[:0]
	u.woken = u.woken[:0]
	for _, tl := range u.timelines {
		tl.inBlocked = false
		tl.woken = false
		tl.beginWindow(w.End)
		tl.retrieveIncomingAndCalculateLowerBound()
		if tl.runnable() {
			heap.Push(&u.runnable, tl)
		} else {
			u.block(tl)
		}
	}
	for u.finished < len(u.timelines) {
		if u.runnable.Len() == 0 {
			if err := u.handleIO(ctx, true); err != nil {
				return err
			}
			continue
		}
		tl := heap.Pop(&u.runnable).(*Timeline)
		u.runTimeline(tl, w)
		if err := u.handleIO(ctx, false); err != nil {
			return err
		}
	}
	u.log.Debugf("window %d done: %d timelines", w.Index, len(u.timelines))
	return nil
}

func (u *Universe) runTimeline(tl *Timeline, w Window) {
	prev := tl.clock
	reached := tl.run(u.sim.wallFor)
	u.stats.runs++
	if reached > prev {
		for _, g := range tl.outAsync {
			g.setTime(reached, true)
		}
	}
	switch {
	case tl.state == StatePacing:
		heap.Push(&u.paced, tl)
	case reached >= w.End:
		if w.End >= tl.endTime {
			tl.state = StateDone
		} else {
			tl.state = StateRound
		}
		u.finished++
	default:
		u.block(tl)
		u.refresh(tl)
	}
}

func (u *Universe) block(tl *Timeline) {
	tl.state = StateWaiting
	if !tl.inBlocked {
		tl.inBlocked = true
		u.blocked = append(u.blocked, tl)
	}
}

// refresh re-reads a waiting timeline's inbound bounds and makes it runnable
// when LBTS moved past its clock.
func (u *Universe) refresh(tl *Timeline) {
	tl.woken = false
	if tl.state != StateWaiting {
		return
	}
	tl.retrieveIncomingAndCalculateLowerBound()
	if tl.runnable() {
		tl.state = StateStart
		heap.Push(&u.runnable, tl)
	}
}

// handleIO absorbs mailbox traffic and due pacing deadlines. When blocking
// is set and nothing became runnable it waits for the wake channel, the next
// pacing deadline or cancellation.
func (u *Universe) handleIO(ctx context.Context, blocking bool) error {
	mail := false
	for {
		if !mail {
			select {
			case <-u.wake:
				mail = true
			default:
			}
		}
		if mail {
			mail = false
			kept := u.blocked[:0]
			for _, tl := range u.blocked {
				u.refresh(tl)
				if tl.state == StateWaiting {
					kept = append(kept, tl)
				} else {
					tl.inBlocked = false
				}
			}
			clear(u.blocked[len(kept):])
			u.blocked = kept
		}
		for len(u.woken) > 0 {
			tl := u.woken[len(u.woken)-1]
			u.woken = u.woken[:len(u.woken)-1]
			u.refresh(tl)
		}
		now := time.Now()
		for u.paced.Len() > 0 && !u.paced.peek().paceAt.After(now) {
			tl := heap.Pop(&u.paced).(*Timeline)
			tl.state = StateStart
			heap.Push(&u.runnable, tl)
		}
		if !blocking || u.runnable.Len() > 0 || u.finished == len(u.timelines) {
			return nil
		}

		u.stats.blockedWaits++
		var timer *time.Timer
		var due <-chan time.Time
		if u.paced.Len() > 0 {
			timer = time.NewTimer(time.Until(u.paced.peek().paceAt))
			due = timer.C
		}
		select {
		case <-u.wake:
			mail = true
		case <-due:
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// timelineHeap orders timelines by a configurable key.
type timelineHeap struct {
	items []*Timeline
	less  func(a, b *Timeline) bool
}

func (h *timelineHeap) Len() int           { return len(h.items) }
func (h *timelineHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *timelineHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *timelineHeap) Push(x any)         { h.items = append(h.items, x.(*Timeline)) }
func (h *timelineHeap) Pop() any {
	old := h.items
	n := len(old)
	tl := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return tl
}
func (h *timelineHeap) peek() *Timeline { return h.items[0] }
