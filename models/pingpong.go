package models

import "github.com/inference-sim/pdes/kernel"

// PingPong is two players on separate timelines bouncing a ball over channels
// with a fixed delay. The first serve happens at time zero, so by end time T
// exactly ceil(T/delay) balls have been sent.
type PingPong struct {
	delay   kernel.VirtualTime
	players [2]*player
}

type player struct {
	ent      *kernel.Entity
	in       *kernel.InChannel
	out      *kernel.OutChannel
	sent     int64
	received int64
	lastHit  int64
	digest   entityDigest
}

func NewPingPong(delay kernel.VirtualTime) *PingPong {
	return &PingPong{delay: delay}
}

func (m *PingPong) Name() string { return "pingpong" }

func (m *PingPong) Build(b *kernel.Builder) error {
	names := [2]string{"ping", "pong"}
	for i := range m.players {
		e := b.NewEntity(names[i])
		m.players[i] = &player{ent: e, in: e.NewInChannel(names[i] + ".in"), out: e.NewOutChannel()}
	}
	for i, p := range m.players {
		if err := p.out.MapTo(m.players[1-i].in, m.delay); err != nil {
			return err
		}
		p.in.OnReceive(func(pl kernel.Payload) {
			ball := pl.(*Ball)
			p.received++
			p.lastHit = ball.Hits
			p.digest.add(p.ent.Now().Ticks(), ball.Hits)
			p.serve(ball.Hits + 1)
		})
	}
	ping := m.players[0]
	ping.ent.OnInit(func() { ping.serve(1) })
	return nil
}

func (p *player) serve(hits int64) {
	p.sent++
	p.out.Write(&Ball{Hits: hits}, 0)
}

// Sent returns the balls sent by local players.
func (m *PingPong) Sent() int64 {
	var n int64
	for _, p := range m.players {
		if p.ent.Local() {
			n += p.sent
		}
	}
	return n
}

// LastHit returns the highest hit count a local player received.
func (m *PingPong) LastHit() int64 {
	var h int64
	for _, p := range m.players {
		if p.ent.Local() {
			h = max(h, p.lastHit)
		}
	}
	return h
}

func (m *PingPong) Report() Report {
	r := Report{Model: m.Name()}
	for _, p := range m.players {
		if !p.ent.Local() {
			continue
		}
		r.Entities++
		r.Sent += p.sent
		r.Received += p.received
		r.Digest ^= p.digest.sum
	}
	return r
}
