package kernel

import "sync"

// Mailbox is the only kernel structure written by more than one goroutine.
// Producers append events under the mutex; the consumer drains everything at
// once. An optional notify hook runs after every push (outside the lock) so
// the consuming universe can be woken.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	list   eventChain
	closed bool
	total  int64
	notify func()
}

// NewMailbox creates an empty mailbox. notify may be nil.
func NewMailbox(notify func()) *Mailbox {
	m := &Mailbox{notify: notify}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Push appends one event.
func (m *Mailbox) Push(e *Event) {
	m.mu.Lock()
	m.list.push(e)
	m.total++
	m.cond.Signal()
	m.mu.Unlock()
	if m.notify != nil {
		m.notify()
	}
}

func (m *Mailbox) pushChain(c eventChain) {
	if c.empty() {
		return
	}
	m.mu.Lock()
	m.list.splice(c)
	m.total += int64(c.n)
	m.cond.Signal()
	m.mu.Unlock()
	if m.notify != nil {
		m.notify()
	}
}

// TryPop drains the mailbox without blocking. The chain is empty when nothing
// was queued.
func (m *Mailbox) TryPop() *Event {
	return m.tryPop().head
}

func (m *Mailbox) tryPop() eventChain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list.take()
}

// BlockingPop waits until at least one event is queued and drains the
// mailbox. It returns nil, false once the mailbox is closed and empty.
func (m *Mailbox) BlockingPop() (*Event, bool) {
	c, ok := m.blockingPop()
	return c.head, ok
}

func (m *Mailbox) blockingPop() (eventChain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.list.empty() && !m.closed {
		m.cond.Wait()
	}
	if m.list.empty() {
		return eventChain{}, false
	}
	return m.list.take(), true
}

// Len returns the number of queued events.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list.n
}

// Total returns the number of events ever pushed.
func (m *Mailbox) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Close wakes blocked consumers. Events already queued can still be popped.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}
