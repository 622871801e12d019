package kernel

import (
	"fmt"
	"math/rand"

	"golang.org/x/text/unicode/norm"
)

// Entity is the unit a model is built from. Every entity lives on exactly one
// timeline; entities created with AlignWith share a timeline and therefore a
// clock and an event list.
type Entity struct {
	name     string
	serial   uint32
	timeline *Timeline
	realTime bool
	builder  *Builder

	inits  []func()
	finals []func()
}

func (e *Entity) Name() string         { return e.name }
func (e *Entity) Serial() uint32       { return e.serial }
func (e *Entity) Timeline() *Timeline  { return e.timeline }
func (e *Entity) IsRealTime() bool     { return e.realTime }
func (e *Entity) Now() VirtualTime     { return e.timeline.clock }
func (e *Entity) Rand() *rand.Rand     { return e.timeline.rng }
func (e *Entity) String() string       { return fmt.Sprintf("%s#%d", e.name, e.serial) }

// Local reports whether the entity's timeline runs on this machine. Only local
// entities have their callbacks invoked.
func (e *Entity) Local() bool { return e.timeline.universe != nil }

// OnInit registers a callback run at time zero, before the first window.
func (e *Entity) OnInit(fn func()) { e.inits = append(e.inits, fn) }

// OnFinalize registers a callback run after the last window.
func (e *Entity) OnFinalize(fn func()) { e.finals = append(e.finals, fn) }

// NewInChannel creates an input port. A non-empty name makes the channel
// reachable through OutChannel.MapToName; names are NFC-normalised and must
// be unique.
func (e *Entity) NewInChannel(name string) *InChannel {
	in := &InChannel{owner: e, name: norm.NFC.String(name)}
	b := e.builder
	if b.frozen {
		b.fail(phaseErrorf("inchannel %q created after topology freeze", name))
		return in
	}
	if in.name != "" {
		if _, dup := b.inchannels[in.name]; dup {
			b.fail(configErrorf("inchannel %q registered twice", in.name))
			return in
		}
		b.inchannels[in.name] = in
	}
	return in
}

// NewOutChannel creates an output port with no mappings.
func (e *Entity) NewOutChannel() *OutChannel {
	out := &OutChannel{owner: e}
	if e.builder.frozen {
		e.builder.fail(phaseErrorf("outchannel created after topology freeze"))
	}
	return out
}

// EntityOption configures NewEntity.
type EntityOption func(*entityOptions)

type entityOptions struct {
	align    *Entity
	realTime bool
}

// AlignWith places the new entity on the same timeline as other.
func AlignWith(other *Entity) EntityOption {
	return func(o *entityOptions) { o.align = other }
}

// RealTime pins the entity's events to wall-clock time: none is dispatched
// before its virtual time, scaled by the tick scale, has elapsed since start.
func RealTime() EntityOption {
	return func(o *entityOptions) { o.realTime = true }
}

// Builder collects entities, channels and mappings while the model is being
// built. It is single-threaded and is frozen into a Topology by
// Simulation.Init. The first error is sticky and reported by Init.
type Builder struct {
	entities   []*Entity
	timelines  []*Timeline
	inchannels map[string]*InChannel
	requests   []mapRequest
	frozen     bool
	err        error
}

type mapRequest struct {
	out   *OutChannel
	in    *InChannel
	name  string
	delay VirtualTime
}

func newBuilder() *Builder {
	return &Builder{inchannels: make(map[string]*InChannel)}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first error recorded while building.
func (b *Builder) Err() error { return b.err }

// NewEntity creates an entity. Without AlignWith it gets a fresh timeline.
func (b *Builder) NewEntity(name string, opts ...EntityOption) *Entity {
	var o entityOptions
	for _, opt := range opts {
		opt(&o)
	}
	e := &Entity{name: name, serial: uint32(len(b.entities)), realTime: o.realTime, builder: b}
	if b.frozen {
		b.fail(phaseErrorf("entity %q created after topology freeze", name))
	}
	switch {
	case o.align != nil && o.align.builder != b:
		b.fail(configErrorf("entity %q aligned with an entity of another model", name))
		fallthrough
	case o.align == nil:
		e.timeline = newTimeline(uint32(len(b.timelines)))
		b.timelines = append(b.timelines, e.timeline)
	default:
		e.timeline = o.align.timeline
	}
	e.timeline.entities = append(e.timeline.entities, e)
	b.entities = append(b.entities, e)
	return e
}

// Entities returns every entity in creation order.
func (b *Builder) Entities() []*Entity { return b.entities }

// InChannel looks up a named inchannel.
func (b *Builder) InChannel(name string) (*InChannel, bool) {
	in, ok := b.inchannels[norm.NFC.String(name)]
	return in, ok
}
