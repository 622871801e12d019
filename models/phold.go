package models

import (
	"fmt"

	"github.com/inference-sim/pdes/kernel"
)

// PHOLD is the classic synthetic benchmark: every entity starts with a fixed
// population of jobs and forwards each job it receives to a random entity
// after an exponentially distributed extra delay. Edge delays take three
// distinct values, so the training phase has several candidates per tier.
type PHOLD struct {
	p     Params
	nodes []*pholdNode
}

type pholdNode struct {
	ent      *kernel.Entity
	in       *kernel.InChannel
	outs     []*kernel.OutChannel
	sent     int64
	received int64
	nextID   int64
	digest   entityDigest
}

func NewPHOLD(p Params) *PHOLD {
	return &PHOLD{p: p}
}

func (m *PHOLD) Name() string { return "phold" }

// edgeDelay is the lookahead of the channel from node i to node j.
func (m *PHOLD) edgeDelay(i, j int) kernel.VirtualTime {
	return m.p.Lookahead.Mul(int64(1 + (i+j)%3))
}

func (m *PHOLD) Build(b *kernel.Builder) error {
	m.nodes = make([]*pholdNode, m.p.Timelines)
	for i := range m.nodes {
		name := fmt.Sprintf("phold/%d", i)
		e := b.NewEntity(name)
		m.nodes[i] = &pholdNode{ent: e, in: e.NewInChannel(name)}
	}
	for i, n := range m.nodes {
		n.outs = make([]*kernel.OutChannel, len(m.nodes))
		for j, target := range m.nodes {
			n.outs[j] = n.ent.NewOutChannel()
			if err := n.outs[j].MapTo(target.in, m.edgeDelay(i, j)); err != nil {
				return err
			}
		}
		n.in.OnReceive(func(pl kernel.Payload) {
			job := pl.(*Job)
			n.received++
			n.digest.add(n.ent.Now().Ticks(), int64(job.Origin), job.ID, job.Hops)
			m.forward(n, job)
		})
		n.ent.OnInit(func() {
			for k := 0; k < m.p.Population; k++ {
				n.nextID++
				m.forward(n, &Job{Origin: n.ent.Serial(), ID: n.nextID})
			}
		})
	}
	return nil
}

func (m *PHOLD) forward(n *pholdNode, job *Job) {
	rng := n.ent.Rand()
	target := rng.Intn(len(m.nodes))
	extra := kernel.FromTicks(int64(rng.ExpFloat64() * float64(m.p.Lookahead.Ticks())))
	job.Hops++
	n.sent++
	n.outs[target].Write(job, extra)
}

func (m *PHOLD) Report() Report {
	r := Report{Model: m.Name()}
	for _, n := range m.nodes {
		if !n.ent.Local() {
			continue
		}
		r.Entities++
		r.Sent += n.sent
		r.Received += n.received
		r.Digest ^= n.digest.sum
	}
	return r
}
