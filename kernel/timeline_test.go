package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// standaloneEntity returns an entity on a fresh timeline, initialized at 0
// with no inbound gates.
func standaloneEntity(t *testing.T) *Entity {
	t.Helper()
	e := newBuilder().NewEntity("e")
	e.timeline.initialize(0)
	return e
}

// runTo runs the timeline through a window ending at end.
func runTo(tl *Timeline, end VirtualTime) VirtualTime {
	tl.beginWindow(end)
	tl.retrieveIncomingAndCalculateLowerBound()
	return tl.run(nil)
}

func TestTimeline_RunDispatchesStrictlyBelowLBTS(t *testing.T) {
	e := standaloneEntity(t)
	tl := e.Timeline()
	var fired []VirtualTime
	for _, at := range []VirtualTime{30, 10, 20} {
		e.NewTimer(func() { fired = append(fired, e.Now()) }).Schedule(at)
	}

	reached := runTo(tl, 20)

	assert.Equal(t, VirtualTime(20), reached)
	assert.Equal(t, []VirtualTime{10}, fired, "event at the bound waits for the next window")
	assert.Equal(t, VirtualTime(20), tl.Now())
	assert.Equal(t, 2, tl.Pending())

	runTo(tl, 40)
	assert.Equal(t, []VirtualTime{10, 20, 30}, fired)
	assert.Equal(t, int64(3), tl.Dispatched())
}

func TestTimeline_StragglerPanicsWithCausalityError(t *testing.T) {
	e := standaloneEntity(t)
	tl := e.Timeline()
	runTo(tl, 50)
	r := catchPanic(func() { tl.InsertEvent(eventAt(49, 1, 1)) })
	ce, ok := r.(*CausalityError)
	require.True(t, ok, "panic value %v", r)
	assert.Equal(t, VirtualTime(49), ce.Time)
	assert.Equal(t, VirtualTime(50), ce.Bound)
}

func TestTimeline_LBTSFollowsSlowestAsyncInput(t *testing.T) {
	// GIVEN a timeline with two asynchronous inbound gates
	b := newBuilder()
	x, y, z := b.NewEntity("x"), b.NewEntity("y"), b.NewEntity("z")
	in := z.NewInChannel("z.in")
	require.NoError(t, x.NewOutChannel().MapTo(in, 10))
	require.NoError(t, y.NewOutChannel().MapTo(in, 30))
	topo, err := b.freeze()
	require.NoError(t, err)
	topo.partition(1, 1)
	for _, g := range topo.Gates() {
		g.reclassify(0, 100, 100)
	}
	tl := z.Timeline()
	tl.rebuildAsync()
	tl.initialize(0)

	// THEN LBTS is the smallest promise and names the gate it waits on
	tl.beginWindow(100)
	assert.Equal(t, VirtualTime(10), tl.retrieveIncomingAndCalculateLowerBound())
	assert.Same(t, topo.Gates()[0], tl.waitGate)

	// WHEN the fast input advances past the slow one
	topo.Gates()[0].setTime(50, true)
	assert.Equal(t, VirtualTime(30), tl.retrieveIncomingAndCalculateLowerBound())
	assert.Same(t, topo.Gates()[1], tl.waitGate)
}

func TestTimeline_PacingStopsBeforeRealTimeEvent(t *testing.T) {
	e := newBuilder().NewEntity("rt", RealTime())
	tl := e.Timeline()
	tl.initialize(0)
	fired := false
	e.NewTimer(func() { fired = true }).Schedule(10)
	tl.beginWindow(100)
	tl.retrieveIncomingAndCalculateLowerBound()

	// WHEN the wall-clock instant of the event is still in the future
	future := time.Now().Add(time.Hour)
	reached := tl.run(func(VirtualTime) time.Time { return future })

	// THEN the timeline parks at the event time without dispatching it
	assert.Equal(t, VirtualTime(10), reached)
	assert.Equal(t, StatePacing, tl.State())
	assert.False(t, fired)

	// WHEN the instant has passed
	tl.run(func(VirtualTime) time.Time { return time.Now().Add(-time.Second) })
	assert.True(t, fired)
	assert.Equal(t, VirtualTime(100), tl.Now())
}

func TestProcess_HoldAndActivate(t *testing.T) {
	e := standaloneEntity(t)
	p := e.NewProcess()
	var steps []VirtualTime
	p.Activate(func() {
		steps = append(steps, e.Now())
		p.Hold(15, func() {
			steps = append(steps, e.Now())
			p.Hold(5, func() { steps = append(steps, e.Now()) })
		})
	})
	assert.True(t, p.Pending())
	runTo(e.Timeline(), 100)
	assert.Equal(t, []VirtualTime{0, 15, 20}, steps)
	assert.False(t, p.Pending())
}

func TestProcess_CancelAndNegativeHold(t *testing.T) {
	e := standaloneEntity(t)
	p := e.NewProcess()
	ran := false
	p.Hold(10, func() { ran = true })
	assert.True(t, p.Cancel())
	assert.False(t, p.Cancel())
	runTo(e.Timeline(), 100)
	assert.False(t, ran)

	err, _ := catchPanic(func() { p.Hold(-1, func() {}) }).(error)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestTimer_RescheduleReplacesPendingFiring(t *testing.T) {
	e := standaloneEntity(t)
	var fired []VirtualTime
	tm := e.NewTimer(func() { fired = append(fired, e.Now()) })
	tm.Schedule(10)
	tm.Schedule(25)
	runTo(e.Timeline(), 100)
	assert.Equal(t, []VirtualTime{25}, fired)
	assert.False(t, tm.Pending())
}

func TestSemaphore_ServesWaitersInArrivalOrder(t *testing.T) {
	// GIVEN a single-unit semaphore and three processes that each hold it
	// for 10 ticks
	e := standaloneEntity(t)
	sem := e.NewSemaphore(1)
	var order []string
	var starts []VirtualTime
	for _, name := range []string{"a", "b", "c"} {
		p := e.NewProcess()
		p.Activate(func() {
			sem.Wait(func() {
				order = append(order, name)
				starts = append(starts, e.Now())
				p.Hold(10, sem.Signal)
			})
		})
	}

	runTo(e.Timeline(), 100)

	// THEN they run back to back in arrival order
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []VirtualTime{0, 10, 20}, starts)
	assert.Equal(t, 1, sem.Count())
	assert.Zero(t, sem.Waiting())
}
