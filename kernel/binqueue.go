package kernel

import (
	"fmt"
	"math"
)

// BinQueue is a calendar queue holding events that are due after the current
// synchronization window. Bin i covers one window-length slice of virtual
// time; events beyond nbins windows wait in an overflow heap and migrate into
// bins as the current bin advances.
//
// Until Settle is called the window length is unknown, so events go to an
// unordered staging list and Retrieve scans it linearly.
//
// A BinQueue is used by a single goroutine; the scheduler hands the retrieved
// events to other universes through the barrier-protected exchange table.
type BinQueue struct {
	name string

	binsize  VirtualTime
	bins     []eventChain
	offset   VirtualTime // settle time, origin of the bin grid
	cur      int
	curStart VirtualTime
	overflow eventList
	staging  eventChain

	settled bool
	drained bool // staging list redistributed after Settle
	aligned bool // a retrieve has ended exactly on a bin boundary

	upper     VirtualTime // bound of the last Retrieve
	retrieved bool
	size      int
}

// NewBinQueue creates an unsettled queue. The name appears in panics.
func NewBinQueue(name string) *BinQueue {
	return &BinQueue{name: name, upper: VirtualTime(math.MinInt64)}
}

func (q *BinQueue) Len() int               { return q.size }
func (q *BinQueue) Settled() bool          { return q.settled }
func (q *BinQueue) Binsize() VirtualTime   { return q.binsize }
func (q *BinQueue) NumBins() int           { return len(q.bins) }
func (q *BinQueue) Retrieved() VirtualTime { return q.upper }

// Settle fixes the bin width and count. The first bin starts at now. Events
// staged before settlement are redistributed on the next Retrieve.
func (q *BinQueue) Settle(binsize VirtualTime, nbins int, now VirtualTime) {
	if q.settled {
		panic(fmt.Sprintf("binqueue %s: settled twice", q.name))
	}
	if binsize <= 0 || binsize == Infinity || nbins <= 0 {
		panic(fmt.Sprintf("binqueue %s: invalid geometry binsize=%s nbins=%d", q.name, binsize, nbins))
	}
	if q.retrieved && now < q.upper {
		panic(fmt.Sprintf("binqueue %s: settle at %s behind retrieved bound %s", q.name, now, q.upper))
	}
	q.binsize = binsize
	q.bins = make([]eventChain, nbins)
	q.offset = now
	q.cur = 0
	q.curStart = now
	q.settled = true
}

// Insert adds an event due at or after the last retrieved bound.
func (q *BinQueue) Insert(e *Event) {
	if q.retrieved && e.Time() < q.upper {
		panic(fmt.Sprintf("binqueue %s: insert of %s behind retrieved bound %s", q.name, e, q.upper))
	}
	q.size++
	if !q.settled {
		q.staging.push(e)
		return
	}
	q.place(e)
}

func (q *BinQueue) horizon() VirtualTime {
	return q.curStart.Add(q.binsize.Mul(int64(len(q.bins))))
}

func (q *BinQueue) place(e *Event) {
	t := e.Time()
	if t < q.curStart {
		panic(fmt.Sprintf("binqueue %s: event %s before current bin start %s", q.name, e, q.curStart))
	}
	if t >= q.horizon() {
		q.overflow.schedule(e)
		return
	}
	idx := int(((t - q.offset) / q.binsize) % VirtualTime(len(q.bins)))
	q.bins[idx].push(e)
}

func (q *BinQueue) advance() {
	q.cur = (q.cur + 1) % len(q.bins)
	q.curStart = q.curStart.Add(q.binsize)
	h := q.horizon()
	for q.overflow.Len() > 0 && q.overflow.peek().Time() < h {
		q.place(q.overflow.popNext())
	}
}

// Retrieve removes every event with time < upper and returns them as a chain
// linked through Event.Next. Order inside the chain is unspecified.
//
// Crossing several bin boundaries in one call is only legal until the queue
// has aligned with the window grid; afterwards windows never exceed the bin
// width and a multi-bin skip indicates a scheduling bug.
func (q *BinQueue) Retrieve(upper VirtualTime) *Event {
	if q.retrieved && upper < q.upper {
		panic(fmt.Sprintf("binqueue %s: retrieve bound %s behind %s", q.name, upper, q.upper))
	}
	var out eventChain
	if !q.settled {
		var keep eventChain
		q.staging.take().each(func(e *Event) {
			if e.Time() < upper {
				out.push(e)
			} else {
				keep.push(e)
			}
		})
		q.staging = keep
	} else {
		if !q.drained {
			q.drained = true
			q.staging.take().each(q.place)
		}
		crossed := 0
		for {
			binEnd := q.curStart.Add(q.binsize)
			if upper < binEnd {
				var keep eventChain
				q.bins[q.cur].take().each(func(e *Event) {
					if e.Time() < upper {
						out.push(e)
					} else {
						keep.push(e)
					}
				})
				q.bins[q.cur] = keep
				break
			}
			if q.aligned && crossed > 0 {
				panic(fmt.Sprintf("binqueue %s: retrieve to %s skips more than one bin from %s", q.name, upper, q.curStart))
			}
			out.splice(q.bins[q.cur].take())
			q.advance()
			crossed++
			if upper == binEnd {
				q.aligned = true
				break
			}
		}
	}
	q.upper = upper
	q.retrieved = true
	q.size -= out.n
	return out.head
}
