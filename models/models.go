// Package models holds reference models driven through the kernel. They are
// small enough to reason about by hand and are used by the CLI and by the
// kernel's determinism tests.
package models

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/inference-sim/pdes/kernel"
)

// Params configures a reference model.
type Params struct {
	Timelines  int                // number of timelines (entities for PHOLD and ring)
	Lookahead  kernel.VirtualTime // smallest channel delay
	Population int                // initial messages per entity (PHOLD) or tokens (ring)
}

// DefaultParams returns the parameters used when a field is zero.
func DefaultParams() Params {
	return Params{Timelines: 8, Lookahead: kernel.FromTicks(10), Population: 4}
}

// Model builds a kernel model and reports on what its local entities did.
type Model interface {
	Name() string
	Build(b *kernel.Builder) error
	Report() Report
}

// Report is a model's outcome on one machine. Reports of all machines merge
// into the outcome of the whole run, whatever the partitioning was.
type Report struct {
	Model    string
	Entities int
	Sent     int64
	Received int64
	Digest   uint64
}

// Merge combines per-machine reports. Digests combine with XOR, which does not
// depend on the order machines are merged in.
func Merge(reports ...Report) Report {
	var out Report
	for _, r := range reports {
		if out.Model == "" {
			out.Model = r.Model
		}
		out.Entities += r.Entities
		out.Sent += r.Sent
		out.Received += r.Received
		out.Digest ^= r.Digest
	}
	return out
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d entities, %d sent, %d received, digest %016x", r.Model, r.Entities, r.Sent, r.Received, r.Digest)
}

type factory func(p Params) Model

var registry = map[string]factory{
	"pingpong": func(p Params) Model { return NewPingPong(p.Lookahead) },
	"phold":    func(p Params) Model { return NewPHOLD(p) },
	"ring":     func(p Params) Model { return NewRing(p) },
}

// Names lists the registered models.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New creates a registered model. Zero fields of p take their defaults.
func New(name string, p Params) (Model, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q, expected one of %v", name, Names())
	}
	def := DefaultParams()
	if p.Timelines <= 0 {
		p.Timelines = def.Timelines
	}
	if p.Lookahead <= 0 {
		p.Lookahead = def.Lookahead
	}
	if p.Population <= 0 {
		p.Population = def.Population
	}
	return f(p), nil
}

// entityDigest folds the events an entity saw into a hash.
type entityDigest struct {
	sum uint64
}

func (d *entityDigest) add(vals ...int64) {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range vals {
		for i := range buf {
			buf[i] = byte(uint64(v) >> (8 * i))
		}
		h.Write(buf[:])
	}
	// order-sensitive within an entity
	d.sum = d.sum*1099511628211 ^ h.Sum64()
}
