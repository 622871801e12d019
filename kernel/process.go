package kernel

// Timer runs a callback at a point in virtual time on its entity's timeline.
type Timer struct {
	owner *Entity
	fn    func()
	ev    *Event
}

// NewTimer creates an idle timer.
func (e *Entity) NewTimer(fn func()) *Timer {
	return &Timer{owner: e, fn: fn}
}

// Schedule arms the timer d ticks from now, replacing any pending firing.
func (t *Timer) Schedule(d VirtualTime) {
	if d < 0 {
		panic(configErrorf("timer on %s scheduled with negative delay %s", t.owner, d))
	}
	t.Cancel()
	tl := t.owner.timeline
	e := newEvent(KindTimer, tl.stamp(tl.clock.Add(d)))
	e.realTime = t.owner.realTime
	e.fire = func(*Timeline) {
		t.ev = nil
		t.fn()
	}
	t.ev = e
	tl.InsertEvent(e)
}

// Cancel disarms the timer. It reports whether a firing was pending.
func (t *Timer) Cancel() bool {
	if t.ev == nil {
		return false
	}
	ok := t.owner.timeline.CancelEvent(t.ev)
	t.ev = nil
	return ok
}

func (t *Timer) Pending() bool { return t.ev != nil }

// Process is a chain of continuations owned by one entity. Each step either
// holds for a while or ends; the kernel resumes the next step from the
// timeline's ready queue.
type Process struct {
	owner *Entity
	ev    *Event
}

func (e *Entity) NewProcess() *Process {
	return &Process{owner: e}
}

// Activate schedules fn at the current virtual time.
func (p *Process) Activate(fn func()) {
	p.schedule(KindProcess, 0, fn)
}

// Hold resumes the process with fn after d ticks.
func (p *Process) Hold(d VirtualTime, fn func()) {
	if d < 0 {
		panic(configErrorf("process on %s holds for negative time %s", p.owner, d))
	}
	p.schedule(KindHold, d, fn)
}

// Pending reports whether the process has a scheduled step.
func (p *Process) Pending() bool { return p.ev != nil }

// Cancel drops the scheduled step, if any.
func (p *Process) Cancel() bool {
	if p.ev == nil {
		return false
	}
	ok := p.owner.timeline.CancelEvent(p.ev)
	p.ev = nil
	return ok
}

func (p *Process) schedule(kind EventKind, d VirtualTime, fn func()) {
	tl := p.owner.timeline
	e := newEvent(kind, tl.stamp(tl.clock.Add(d)))
	e.realTime = p.owner.realTime
	e.cont = func(*Timeline) {
		if p.ev == e {
			p.ev = nil
		}
		fn()
	}
	p.ev = e
	tl.InsertEvent(e)
}

// Semaphore is a counting semaphore for processes on one timeline.
type Semaphore struct {
	owner   *Entity
	count   int
	waiters []func()
}

func (e *Entity) NewSemaphore(initial int) *Semaphore {
	return &Semaphore{owner: e, count: initial}
}

func (s *Semaphore) Count() int   { return s.count }
func (s *Semaphore) Waiting() int { return len(s.waiters) }

// Wait takes a unit and continues with fn, or queues fn until Signal.
func (s *Semaphore) Wait(fn func()) {
	if s.count > 0 {
		s.count--
		s.owner.timeline.activate(func(*Timeline) { fn() })
		return
	}
	s.waiters = append(s.waiters, fn)
}

// Signal releases a unit. The oldest waiter, if any, is handed the unit
// through a semaphore event at the current time.
func (s *Semaphore) Signal() {
	if len(s.waiters) == 0 {
		s.count++
		return
	}
	fn := s.waiters[0]
	s.waiters[0] = nil
	s.waiters = s.waiters[1:]
	tl := s.owner.timeline
	e := newEvent(KindSemaphore, tl.stamp(tl.clock))
	e.realTime = s.owner.realTime
	e.cont = func(*Timeline) { fn() }
	tl.InsertEvent(e)
}
