package kernel

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Topology is the frozen, read-only model graph shared by every universe of
// a machine. Every machine builds the same topology from the same build
// function, so timeline serials and gate and portal ids agree everywhere and
// can be used on the wire.
type Topology struct {
	entities  []*Entity
	timelines []*Timeline
	gates     []*Stargate
	portals   []*Portal
}

func (t *Topology) Entities() []*Entity    { return t.entities }
func (t *Topology) Timelines() []*Timeline { return t.timelines }
func (t *Topology) Gates() []*Stargate     { return t.gates }
func (t *Topology) Portals() []*Portal     { return t.portals }

// freeze resolves every mapping request into stargates and portals and
// checks that no two timelines are connected with zero lookahead.
func (b *Builder) freeze() (*Topology, error) {
	if b.frozen {
		return nil, phaseErrorf("topology frozen twice")
	}
	b.frozen = true
	if b.err != nil {
		return nil, b.err
	}
	if len(b.timelines) == 0 {
		return nil, configErrorf("model has no entities")
	}
	t := &Topology{entities: b.entities, timelines: b.timelines}
	byPair := make(map[[2]uint32]*Stargate)
	for _, r := range b.requests {
		in := r.in
		if in == nil {
			var ok bool
			if in, ok = b.inchannels[norm.NFC.String(r.name)]; !ok {
				return nil, fmt.Errorf("%w: %q mapped from %s", ErrUnmappedChannel, r.name, r.out.owner)
			}
		}
		src, dst := r.out.owner.timeline, in.owner.timeline
		key := [2]uint32{src.serial, dst.serial}
		g, ok := byPair[key]
		if !ok {
			g = newStargate(int32(len(t.gates)), src, dst)
			byPair[key] = g
			t.gates = append(t.gates, g)
			src.outGates = append(src.outGates, g)
			dst.inGates = append(dst.inGates, g)
		}
		g.SetDelay(r.delay)
		t.portalFor(r.out, g, r.delay).addInChannel(in)
	}
	for _, g := range t.gates {
		if g.src != g.dst && g.minDelay <= 0 {
			return nil, configErrorf("zero lookahead on %s: timelines must be connected with a positive delay", g)
		}
	}
	return t, nil
}

func (t *Topology) portalFor(out *OutChannel, g *Stargate, delay VirtualTime) *Portal {
	for _, p := range out.portals {
		if p.gate == g && p.delay == delay {
			return p
		}
	}
	p := &Portal{id: int32(len(t.portals)), out: out, gate: g, delay: delay}
	t.portals = append(t.portals, p)
	out.portals = append(out.portals, p)
	return p
}

// partition spreads timelines in contiguous serial blocks, first over
// machines and then over the universes of each machine, and derives every
// gate's tier from the placement.
func (t *Topology) partition(machines, procs int) {
	n := len(t.timelines)
	first := make([]int, machines+1)
	for s, tl := range t.timelines {
		tl.machine = s * machines / n
	}
	for s := n - 1; s >= 0; s-- {
		first[t.timelines[s].machine] = s
	}
	count := make([]int, machines)
	for _, tl := range t.timelines {
		count[tl.machine]++
	}
	for s, tl := range t.timelines {
		tl.proc = (s - first[tl.machine]) * procs / count[tl.machine]
	}
	for _, g := range t.gates {
		switch {
		case g.src == g.dst:
			g.tier = TierSelf
		case g.src.machine != g.dst.machine:
			g.tier = TierGlobal
		case g.src.proc != g.dst.proc:
			g.tier = TierLocal
		default:
			g.tier = TierIntra
		}
	}
}

// lookaheads returns histograms of gate lookaheads per training tier. The
// local histogram covers intra and local gates of every machine so all
// machines train the same number of rounds.
func (t *Topology) lookaheads() (local, global map[VirtualTime]int) {
	local = make(map[VirtualTime]int)
	global = make(map[VirtualTime]int)
	for _, g := range t.gates {
		switch g.tier {
		case TierIntra, TierLocal:
			local[g.minDelay]++
		case TierGlobal:
			global[g.minDelay]++
		}
	}
	return local, global
}
