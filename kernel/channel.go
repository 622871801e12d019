package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// InChannel receives payloads on the owning entity's timeline.
type InChannel struct {
	owner   *Entity
	name    string
	handler func(p Payload)
	recv    int64
}

func (in *InChannel) Name() string    { return in.name }
func (in *InChannel) Owner() *Entity  { return in.owner }
func (in *InChannel) Received() int64 { return in.recv }

// OnReceive sets the handler invoked for every delivered payload.
func (in *InChannel) OnReceive(fn func(p Payload)) { in.handler = fn }

func (in *InChannel) receive(p Payload) {
	in.recv++
	if in.handler == nil {
		logrus.Debugf("inchannel %q on %s has no handler, dropping %T", in.name, in.owner, p)
		return
	}
	in.handler(p)
}

// OutChannel sends payloads to every inchannel it is mapped to.
type OutChannel struct {
	owner   *Entity
	portals []*Portal
}

func (o *OutChannel) Owner() *Entity { return o.owner }

// MapTo connects the outchannel to in with the given propagation delay.
func (o *OutChannel) MapTo(in *InChannel, delay VirtualTime) error {
	if in == nil {
		return configErrorf("outchannel of %s mapped to a nil inchannel", o.owner)
	}
	return o.request(mapRequest{out: o, in: in, delay: delay})
}

// MapToName connects the outchannel to a named inchannel. The name is
// resolved when the topology is frozen, so the inchannel may be created
// later; an unknown name fails Init with ErrUnmappedChannel.
func (o *OutChannel) MapToName(name string, delay VirtualTime) error {
	return o.request(mapRequest{out: o, name: name, delay: delay})
}

func (o *OutChannel) request(r mapRequest) error {
	b := o.owner.builder
	if b.frozen {
		return phaseErrorf("mapping requested after topology freeze")
	}
	if r.delay < 0 {
		return configErrorf("negative mapping delay %s from %s", r.delay, o.owner)
	}
	b.requests = append(b.requests, r)
	return nil
}

// Write sends p to every mapped inchannel. Each receiver sees it at
// Now + mapping delay + extra. Payloads fan out by reference to the last
// portal and by Clone to the others.
func (o *OutChannel) Write(p Payload, extra VirtualTime) {
	if extra < 0 {
		panic(configErrorf("negative extra delay %s on write from %s", extra, o.owner))
	}
	tl := o.owner.timeline
	now := tl.clock
	for i, portal := range o.portals {
		pl := p
		if i < len(o.portals)-1 {
			pl = p.Clone()
		}
		e := newEvent(KindChannel, tl.stamp(now.Add(portal.delay).Add(extra)))
		e.payload = pl
		e.portal = portal
		e.realTime = portal.realTime
		portal.gate.sendMessage(e)
	}
}

// Portal groups the inchannels one outchannel reaches on one target timeline
// with one delay. A single channel event per portal crosses the stargate and
// fans out on delivery.
type Portal struct {
	id       int32
	out      *OutChannel
	gate     *Stargate
	delay    VirtualTime
	inports  []*InChannel
	realTime bool
}

func (p *Portal) ID() int32               { return p.id }
func (p *Portal) Gate() *Stargate         { return p.gate }
func (p *Portal) Delay() VirtualTime      { return p.delay }
func (p *Portal) InChannels() []*InChannel { return p.inports }
func (p *Portal) String() string {
	return fmt.Sprintf("portal(%d via %s +%s)", p.id, p.gate, p.delay)
}

func (p *Portal) addInChannel(in *InChannel) {
	for _, have := range p.inports {
		if have == in {
			return
		}
	}
	p.inports = append(p.inports, in)
	if in.owner.realTime {
		p.realTime = true
	}
}
