package kernel

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestamp_OrderIsTimeThenOwnerThenSeq(t *testing.T) {
	stamps := []Timestamp{
		{Time: 5, Owner: 1, Seq: 1},
		{Time: 3, Owner: 9, Seq: 9},
		{Time: 5, Owner: 0, Seq: 7},
		{Time: 5, Owner: 1, Seq: 0},
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Less(stamps[j]) })
	assert.Equal(t, []Timestamp{
		{Time: 3, Owner: 9, Seq: 9},
		{Time: 5, Owner: 0, Seq: 7},
		{Time: 5, Owner: 1, Seq: 0},
		{Time: 5, Owner: 1, Seq: 1},
	}, stamps)
}

func TestTimestamp_Compare(t *testing.T) {
	a := Timestamp{Time: 1, Owner: 2, Seq: 3}
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, a.Compare(Timestamp{Time: 1, Owner: 2, Seq: 4}))
	assert.Equal(t, 1, a.Compare(Timestamp{Time: 0, Owner: 9, Seq: 9}))
	assert.Equal(t, "1ns/2.3", a.String())
}

func TestTimeline_StampIsMonotonic(t *testing.T) {
	tl := newTimeline(4)
	a, b := tl.stamp(10), tl.stamp(10)
	assert.Equal(t, uint32(4), a.Owner)
	assert.True(t, a.Less(b))
}
