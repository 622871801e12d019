package models

import (
	"fmt"

	"github.com/inference-sim/pdes/kernel"
)

// Ring passes tokens around a cycle of stations. Each station serves one
// token at a time: a semaphore guards the server, a process holds for the
// service time, and a periodic audit timer samples the waiting line.
type Ring struct {
	p        Params
	stations []*station
}

type station struct {
	ent      *kernel.Entity
	in       *kernel.InChannel
	out      *kernel.OutChannel
	server   *kernel.Semaphore
	proc     *kernel.Process
	audit    *kernel.Timer
	sent     int64
	received int64
	audits   int64
	digest   entityDigest
}

func NewRing(p Params) *Ring {
	return &Ring{p: p}
}

func (m *Ring) Name() string { return "ring" }

func (m *Ring) Build(b *kernel.Builder) error {
	n := m.p.Timelines
	la := m.p.Lookahead
	m.stations = make([]*station, n)
	for i := range m.stations {
		name := fmt.Sprintf("ring/%d", i)
		e := b.NewEntity(name)
		m.stations[i] = &station{
			ent:    e,
			in:     e.NewInChannel(name),
			out:    e.NewOutChannel(),
			server: e.NewSemaphore(1),
			proc:   e.NewProcess(),
		}
	}
	for i, s := range m.stations {
		if err := s.out.MapToName(fmt.Sprintf("ring/%d", (i+1)%n), la); err != nil {
			return err
		}
		s.in.OnReceive(func(pl kernel.Payload) {
			tok := pl.(*Token)
			s.received++
			s.server.Wait(func() {
				service := kernel.FromTicks(1 + s.ent.Rand().Int63n(la.Ticks()))
				s.proc.Hold(service, func() {
					if i == 0 {
						tok.Laps++
					}
					tok.visit(s.ent.Name(), s.ent.Now())
					s.digest.add(s.ent.Now().Ticks(), tok.ID, tok.Laps)
					s.sent++
					s.out.Write(tok, 0)
					s.server.Signal()
				})
			})
		})
		s.audit = s.ent.NewTimer(func() {
			s.audits++
			s.digest.add(s.ent.Now().Ticks(), int64(s.server.Waiting()))
			s.audit.Schedule(la.Mul(5))
		})
		s.ent.OnInit(func() { s.audit.Schedule(la.Mul(5)) })
	}
	first := m.stations[0]
	first.ent.OnInit(func() {
		for k := 0; k < m.p.Population; k++ {
			first.sent++
			first.out.Write(&Token{ID: int64(k)}, kernel.FromTicks(int64(k)))
		}
	})
	return nil
}

// Audits returns the number of audit samples taken by local stations.
func (m *Ring) Audits() int64 {
	var n int64
	for _, s := range m.stations {
		if s.ent.Local() {
			n += s.audits
		}
	}
	return n
}

func (m *Ring) Report() Report {
	r := Report{Model: m.Name()}
	for _, s := range m.stations {
		if !s.ent.Local() {
			continue
		}
		r.Entities++
		r.Sent += s.sent
		r.Received += s.received
		r.Digest ^= s.digest.sum
	}
	return r
}
