package kernel

import "container/heap"

// eventList is a min-heap of events ordered by Timestamp.
// Each event remembers its heap index so it can be cancelled in O(log n).
type eventList struct {
	events []*Event
}

// Len implements heap.Interface
func (l *eventList) Len() int { return len(l.events) }

// Less implements heap.Interface with the total Timestamp order
func (l *eventList) Less(i, j int) bool {
	return l.events[i].stamp.Less(l.events[j].stamp)
}

// Swap implements heap.Interface
func (l *eventList) Swap(i, j int) {
	l.events[i], l.events[j] = l.events[j], l.events[i]
	l.events[i].pos = i
	l.events[j].pos = j
}

// Push implements heap.Interface
func (l *eventList) Push(x any) {
	e := x.(*Event)
	e.pos = len(l.events)
	l.events = append(l.events, e)
}

// Pop implements heap.Interface
func (l *eventList) Pop() any {
	old := l.events
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	l.events = old[:n-1]
	e.pos = -1
	return e
}

func (l *eventList) schedule(e *Event) {
	heap.Push(l, e)
}

// popNext removes and returns the earliest event, or nil.
func (l *eventList) popNext() *Event {
	if len(l.events) == 0 {
		return nil
	}
	return heap.Pop(l).(*Event)
}

// peek returns the earliest event without removing it.
func (l *eventList) peek() *Event {
	if len(l.events) == 0 {
		return nil
	}
	return l.events[0]
}

// remove cancels e. It reports false when e is not in this list.
func (l *eventList) remove(e *Event) bool {
	if e.pos < 0 || e.pos >= len(l.events) || l.events[e.pos] != e {
		return false
	}
	heap.Remove(l, e.pos)
	return true
}
