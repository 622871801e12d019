package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// EventKind tags the variant of a kernel event.
type EventKind uint8

const (
	KindTick      EventKind = iota // progress report, re-arms itself
	KindTimer                      // user timer callback
	KindHold                       // process resumes after holding
	KindProcess                    // process activation
	KindSemaphore                  // semaphore hand-off to a waiting process
	KindChannel                    // cross-timeline message or null message
)

var kindNames = [...]string{"tick", "timer", "hold", "process", "semaphore", "channel"}

func (k EventKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Continuation is the resumable part of a process. The kernel calls it from
// the owning timeline's ready queue.
type Continuation func(tl *Timeline)

// Event is a schedulable work item. It is a tagged union: Kind selects which
// of the variant fields are meaningful. An Event belongs to at most one list
// at a time (an event list, a mailbox, a BinQueue bin or a transport batch).
type Event struct {
	stamp    Timestamp
	kind     EventKind
	realTime bool
	pos      int // heap index in the owning event list, -1 when not enqueued

	interval VirtualTime     // tick
	fire     func(*Timeline) // timer
	cont     Continuation    // hold, process, semaphore

	// channel variant; payload and portal are nil for null messages
	payload Payload
	portal  *Portal
	gate    *Stargate
	next    *Event
}

func (e *Event) Time() VirtualTime { return e.stamp.Time }
func (e *Event) Stamp() Timestamp  { return e.stamp }
func (e *Event) Kind() EventKind   { return e.kind }
func (e *Event) RealTime() bool    { return e.realTime }

// Next returns the following event of a chain returned by BinQueue.Retrieve.
func (e *Event) Next() *Event { return e.next }

// Payload returns the message carried by a channel event.
func (e *Event) Payload() Payload { return e.payload }

// Pending reports whether the event sits in an event list.
func (e *Event) Pending() bool { return e.pos >= 0 }

// IsNull reports whether e is a payload-free lower-bound announcement.
func (e *Event) IsNull() bool { return e.kind == KindChannel && e.payload == nil }

func (e *Event) String() string {
	if e.IsNull() {
		return fmt.Sprintf("null(%s)", e.stamp.Time)
	}
	return fmt.Sprintf("%s@%s", e.kind, e.stamp)
}

func newEvent(kind EventKind, stamp Timestamp) *Event {
	return &Event{kind: kind, stamp: stamp, pos: -1}
}

func newNullEvent(t VirtualTime, g *Stargate) *Event {
	return &Event{kind: KindChannel, stamp: Timestamp{Time: t}, gate: g, pos: -1}
}

// dispatch runs the variant action with tl as context.
func (e *Event) dispatch(tl *Timeline) {
	switch e.kind {
	case KindTick:
		logrus.Infof("[tick %s] timeline %d progress: %d events dispatched", tl.clock, tl.serial, tl.dispatched)
		if next := tl.clock.Add(e.interval); next < tl.endTime {
			tick := newEvent(KindTick, tl.stamp(next))
			tick.interval = e.interval
			tl.InsertEvent(tick)
		}
	case KindTimer:
		e.fire(tl)
	case KindHold, KindProcess, KindSemaphore:
		tl.activate(e.cont)
	case KindChannel:
		tl.deliver(e)
	default:
		panic(fmt.Sprintf("event: unknown kind %d", e.kind))
	}
}

// eventChain is an intrusive singly-linked FIFO of events with O(1) append
// and splice.
type eventChain struct {
	head, tail *Event
	n          int
}

func (c *eventChain) push(e *Event) {
	e.next = nil
	if c.tail == nil {
		c.head = e
	} else {
		c.tail.next = e
	}
	c.tail = e
	c.n++
}

func (c *eventChain) splice(o eventChain) {
	if o.head == nil {
		return
	}
	if c.tail == nil {
		c.head = o.head
	} else {
		c.tail.next = o.head
	}
	c.tail = o.tail
	c.n += o.n
}

// take empties the chain and returns its former contents.
func (c *eventChain) take() eventChain {
	out := *c
	*c = eventChain{}
	return out
}

func (c *eventChain) empty() bool { return c.head == nil }

// each visits every event, unlinking it first so fn may push it elsewhere.
func (c eventChain) each(fn func(e *Event)) {
	for e := c.head; e != nil; {
		next := e.next
		e.next = nil
		fn(e)
		e = next
	}
}

// chainOf builds a chain from a head pointer, e.g. the result of Retrieve.
func chainOf(head *Event) eventChain {
	var c eventChain
	for e := head; e != nil; {
		next := e.next
		c.push(e)
		e = next
	}
	return c
}
