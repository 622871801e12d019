package kernel

import (
	"fmt"
	"math/rand"
	"time"
)

// TimelineState tracks a timeline through a window.
type TimelineState uint8

const (
	StateStart   TimelineState = iota // ready to run
	StateRunning                      // dispatching events
	StatePacing                       // stopped early by a real-time event
	StateWaiting                      // blocked on an inbound lower bound
	StateRound                        // reached the window end
	StateDone                         // reached the end of the run
)

var stateNames = [...]string{"start", "running", "pacing", "waiting", "round", "done"}

func (s TimelineState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Timeline is a logical process: a set of aligned entities sharing a clock and
// an event list. It is driven by exactly one universe, so none of its fields
// need locking; only the mailboxes of its inbound gates are shared.
type Timeline struct {
	serial   uint32
	machine  int
	proc     int
	universe *Universe
	entities []*Entity

	events eventList
	ready  []Continuation
	seq    uint64

	clock     VirtualTime
	lbts      VirtualTime
	windowEnd VirtualTime
	endTime   VirtualTime
	state     TimelineState

	inGates   []*Stargate
	outGates  []*Stargate
	inAsync   []*Stargate // asynchronous inbound gates, they bound LBTS
	outAsync  []*Stargate // asynchronous outbound gates, they carry null messages
	mailGates []*Stargate // inbound gates with a mailbox
	waitGate  *Stargate   // the inbound gate LBTS is currently limited by

	rng *rand.Rand

	paceAt    time.Time
	woken     bool
	inBlocked bool

	dispatched int64
	received   int64
	runs       int64
}

func newTimeline(serial uint32) *Timeline {
	return &Timeline{serial: serial, endTime: Infinity}
}

func (tl *Timeline) Serial() uint32         { return tl.serial }
func (tl *Timeline) Machine() int           { return tl.machine }
func (tl *Timeline) Proc() int              { return tl.proc }
func (tl *Timeline) Now() VirtualTime       { return tl.clock }
func (tl *Timeline) LBTS() VirtualTime      { return tl.lbts }
func (tl *Timeline) State() TimelineState   { return tl.state }
func (tl *Timeline) Dispatched() int64      { return tl.dispatched }
func (tl *Timeline) Entities() []*Entity    { return tl.entities }
func (tl *Timeline) InGates() []*Stargate   { return tl.inGates }
func (tl *Timeline) OutGates() []*Stargate  { return tl.outGates }
func (tl *Timeline) Pending() int           { return tl.events.Len() }
func (tl *Timeline) String() string         { return fmt.Sprintf("timeline %d", tl.serial) }

// stamp issues the next Timestamp owned by this timeline.
func (tl *Timeline) stamp(t VirtualTime) Timestamp {
	tl.seq++
	return Timestamp{Time: t, Owner: tl.serial, Seq: tl.seq}
}

// InsertEvent enqueues e. An event behind the clock is a straggler.
func (tl *Timeline) InsertEvent(e *Event) {
	if e.Time() < tl.clock {
		ce := &CausalityError{Timeline: tl.serial, Time: e.Time(), Bound: tl.clock}
		if e.gate != nil {
			ce.Gate = e.gate.String()
		}
		panic(ce)
	}
	tl.events.schedule(e)
}

// CancelEvent removes a pending event.
func (tl *Timeline) CancelEvent(e *Event) bool {
	return tl.events.remove(e)
}

func (tl *Timeline) activate(c Continuation) {
	tl.ready = append(tl.ready, c)
}

func (tl *Timeline) drainReady() {
	for i := 0; i < len(tl.ready); i++ {
		c := tl.ready[i]
		tl.ready[i] = nil
		c(tl)
	}
	tl.ready = tl.ready[:0]
}

// deliver fans a channel event out to every inchannel of its portal.
func (tl *Timeline) deliver(e *Event) {
	ins := e.portal.inports
	for i, in := range ins {
		p := e.payload
		if i < len(ins)-1 {
			p = p.Clone()
		}
		in.receive(p)
	}
	tl.received++
}

// initialize runs the entities' init callbacks at the start time.
func (tl *Timeline) initialize(start VirtualTime) {
	tl.clock = start
	tl.lbts = start
	for _, e := range tl.entities {
		for _, fn := range e.inits {
			fn()
		}
		tl.drainReady()
	}
}

func (tl *Timeline) finalize() {
	for _, e := range tl.entities {
		for _, fn := range e.finals {
			fn()
		}
	}
}

// rebuildAsync refreshes the asynchronous gate subsets after the gates were
// reclassified. Self gates never bound LBTS: the timeline's own sends are
// already in its event list.
func (tl *Timeline) rebuildAsync() {
	tl.inAsync = tl.inAsync[:0]
	for _, g := range tl.inGates {
		if !g.inSync && g.tier != TierSelf {
			tl.inAsync = append(tl.inAsync, g)
		}
	}
	tl.outAsync = tl.outAsync[:0]
	for _, g := range tl.outGates {
		if !g.inSync && g.tier != TierSelf {
			tl.outAsync = append(tl.outAsync, g)
		}
	}
}

func (tl *Timeline) beginWindow(end VirtualTime) {
	tl.windowEnd = end
	tl.state = StateStart
}

// retrieveIncomingAndCalculateLowerBound drains the inbound mailboxes and
// recomputes LBTS as the minimum of the window end and the bounds of the
// asynchronous inbound gates.
func (tl *Timeline) retrieveIncomingAndCalculateLowerBound() VirtualTime {
	for _, g := range tl.mailGates {
		g.mailbox.tryPop().each(func(e *Event) {
			if e.IsNull() {
				g.setTime(e.Time(), false)
				return
			}
			tl.InsertEvent(e)
		})
	}
	lb := tl.windowEnd
	tl.waitGate = nil
	for _, g := range tl.inAsync {
		if g.recvTime < lb {
			lb = g.recvTime
			tl.waitGate = g
		}
	}
	if lb < tl.lbts {
		panic(fmt.Sprintf("%s: LBTS moved backwards from %s to %s", tl, tl.lbts, lb))
	}
	tl.lbts = lb
	return lb
}

// runnable reports whether run can make progress.
func (tl *Timeline) runnable() bool {
	return tl.lbts > tl.clock
}

// run dispatches every event strictly below LBTS and returns the time
// reached. That is LBTS itself unless a real-time event is not yet due, in
// which case the timeline stops at that event's time in StatePacing.
func (tl *Timeline) run(wallFor func(VirtualTime) time.Time) VirtualTime {
	tl.state = StateRunning
	tl.runs++
	for {
		e := tl.events.peek()
		if e == nil || e.Time() >= tl.lbts {
			break
		}
		if e.realTime && wallFor != nil {
			if at := wallFor(e.Time()); time.Now().Before(at) {
				tl.clock = e.Time()
				tl.paceAt = at
				tl.state = StatePacing
				return tl.clock
			}
		}
		tl.events.popNext()
		tl.clock = e.Time()
		tl.dispatched++
		e.dispatch(tl)
		tl.drainReady()
	}
	tl.clock = tl.lbts
	return tl.clock
}
