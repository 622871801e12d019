package kernel

import "fmt"

// Timestamp is the ordering key of every kernel event.
// Ordering: time → owner serial → per-owner sequence number.
// Owner and Seq are assigned by the timeline that creates the event, so the
// order does not depend on how timelines are spread over threads or machines.
type Timestamp struct {
	Time  VirtualTime
	Owner uint32
	Seq   uint64
}

// Less reports whether a orders strictly before b.
func (a Timestamp) Less(b Timestamp) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if a.Owner != b.Owner {
		return a.Owner < b.Owner
	}
	return a.Seq < b.Seq
}

// Compare returns -1, 0 or +1.
func (a Timestamp) Compare(b Timestamp) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

func (a Timestamp) String() string {
	return fmt.Sprintf("%s/%d.%d", a.Time, a.Owner, a.Seq)
}
