package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventAt(t VirtualTime, owner uint32, seq uint64) *Event {
	return newEvent(KindTimer, Timestamp{Time: t, Owner: owner, Seq: seq})
}

func TestEventList_PopsInTimestampOrder(t *testing.T) {
	var l eventList
	in := []*Event{eventAt(30, 0, 1), eventAt(10, 1, 1), eventAt(10, 0, 2), eventAt(20, 0, 3)}
	for _, e := range in {
		l.schedule(e)
	}
	assert.Equal(t, in[2], l.peek())
	var got []Timestamp
	for e := l.popNext(); e != nil; e = l.popNext() {
		assert.False(t, e.Pending())
		got = append(got, e.Stamp())
	}
	assert.Equal(t, []Timestamp{in[2].stamp, in[1].stamp, in[3].stamp, in[0].stamp}, got)
	assert.Nil(t, l.peek())
}

func TestEventList_Remove(t *testing.T) {
	var l eventList
	a, b, c := eventAt(1, 0, 1), eventAt(2, 0, 2), eventAt(3, 0, 3)
	l.schedule(a)
	l.schedule(b)
	l.schedule(c)

	require.True(t, l.remove(b))
	assert.False(t, l.remove(b), "removing twice")
	assert.False(t, l.remove(eventAt(2, 0, 2)), "never scheduled")
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, a, l.popNext())
	assert.Equal(t, c, l.popNext())
}

func TestEventChain_SpliceAndTake(t *testing.T) {
	var a, b eventChain
	a.push(eventAt(1, 0, 1))
	b.push(eventAt(2, 0, 2))
	b.push(eventAt(3, 0, 3))
	a.splice(b)
	assert.Equal(t, 3, a.n)

	got := a.take()
	assert.True(t, a.empty())
	var times []VirtualTime
	got.each(func(e *Event) { times = append(times, e.Time()) })
	assert.Equal(t, []VirtualTime{1, 2, 3}, times)
}
