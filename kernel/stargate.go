package kernel

import "fmt"

// GateTier says which synchronization tier a stargate belongs to, based on
// where its two timelines run.
type GateTier uint8

const (
	TierSelf   GateTier = iota // source and target are the same timeline
	TierIntra                  // same universe
	TierLocal                  // different universes on one machine
	TierGlobal                 // different machines
)

var tierNames = [...]string{"self", "intra", "local", "global"}

func (t GateTier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// Stargate is the directed edge between two timelines. It carries the
// lookahead (MinDelay) and the null-message protocol.
//
// The source side owns sendTime, the promise that no future message will
// arrive earlier. The target side owns recvTime, its current knowledge of that
// promise. For edges inside one universe both advance together; across
// universes recvTime trails sendTime until the null message is drained; across
// machines each machine holds its own copy of the gate and updates only its
// own side.
type Stargate struct {
	id       int32
	src, dst *Timeline
	minDelay VirtualTime
	tier     GateTier
	inSync   bool

	sendTime VirtualTime
	recvTime VirtualTime

	mailbox *Mailbox // target-side inbox for local and global gates
	outbox  *Mailbox // machine outbox, source side of global gates

	sent  int64
	nulls int64
}

func newStargate(id int32, src, dst *Timeline) *Stargate {
	return &Stargate{id: id, src: src, dst: dst, minDelay: Infinity}
}

func (g *Stargate) ID() int32                 { return g.id }
func (g *Stargate) Source() *Timeline         { return g.src }
func (g *Stargate) Target() *Timeline         { return g.dst }
func (g *Stargate) MinDelay() VirtualTime     { return g.minDelay }
func (g *Stargate) Tier() GateTier            { return g.tier }
func (g *Stargate) InSync() bool              { return g.inSync }
func (g *Stargate) SendTime() VirtualTime     { return g.sendTime }
func (g *Stargate) RecvTime() VirtualTime     { return g.recvTime }
func (g *Stargate) MessagesSent() int64       { return g.sent }
func (g *Stargate) NullMessagesSent() int64   { return g.nulls }
func (g *Stargate) crossesUniverses() bool    { return g.tier == TierLocal || g.tier == TierGlobal }
func (g *Stargate) String() string {
	return fmt.Sprintf("gate(%d->%d)", g.src.serial, g.dst.serial)
}

// SetDelay records a mapping delay. The lookahead is the minimum over every
// mapping ever registered on the edge, so it can only shrink.
func (g *Stargate) SetDelay(d VirtualTime) {
	if d < g.minDelay {
		g.minDelay = d
	}
}

// syncWindow returns the window length this gate is classified against.
func (g *Stargate) syncWindow(decade, epoch VirtualTime) VirtualTime {
	if g.tier == TierGlobal {
		return epoch
	}
	return decade
}

// reclassify compares the lookahead with the active window length. A gate
// whose lookahead covers a whole window is synchronous: its messages cannot
// land inside the window they were sent in, so they are exchanged in bulk at
// the next boundary. A gate turning asynchronous restarts its bounds at
// now+minDelay, which is exact because every source sits at now.
// It reports whether the classification changed.
func (g *Stargate) reclassify(now, decade, epoch VirtualTime) bool {
	sync := g.tier != TierSelf && g.minDelay >= g.syncWindow(decade, epoch)
	changed := sync != g.inSync
	g.inSync = sync
	if !sync {
		bound := now.Add(g.minDelay)
		if g.sendTime < bound {
			g.sendTime = bound
		}
		if g.recvTime < bound {
			g.recvTime = bound
		}
	}
	return changed
}

// setTime advances the bound. Called with bySource=true after the source
// timeline reached t: the promise becomes t+minDelay and, for asynchronous
// gates, a null message carries it to the target. Called with bySource=false
// when the target learns a bound, from a drained null message.
func (g *Stargate) setTime(t VirtualTime, bySource bool) {
	if !bySource {
		g.raise(t)
		return
	}
	nt := t.Add(g.minDelay)
	if nt <= g.sendTime {
		return
	}
	g.sendTime = nt
	if g.inSync || g.tier == TierSelf {
		return
	}
	g.nulls++
	switch g.tier {
	case TierIntra:
		g.raise(nt)
	case TierLocal:
		g.mailbox.Push(newNullEvent(nt, g))
	case TierGlobal:
		g.outbox.Push(newNullEvent(nt, g))
	}
}

func (g *Stargate) raise(t VirtualTime) {
	if t <= g.recvTime {
		return
	}
	g.recvTime = t
	if tl := g.dst; tl.universe != nil && tl.state == StateWaiting && tl.waitGate == g {
		tl.universe.wakeTimeline(tl)
	}
}

// sendMessage routes a payload-bearing event from the source timeline.
func (g *Stargate) sendMessage(e *Event) {
	if g.tier != TierSelf && e.Time() < g.sendTime {
		panic(&CausalityError{Timeline: g.dst.serial, Gate: g.String(), Time: e.Time(), Bound: g.sendTime})
	}
	e.gate = g
	g.sent++
	switch {
	case g.tier == TierSelf:
		g.dst.InsertEvent(e)
	case g.inSync:
		u := g.src.universe
		if g.tier == TierGlobal {
			u.globalBins.Insert(e)
		} else {
			u.localBins.Insert(e)
		}
	case g.tier == TierIntra:
		g.dst.InsertEvent(e)
	case g.tier == TierLocal:
		g.mailbox.Push(e)
	default:
		g.outbox.Push(e)
	}
}
