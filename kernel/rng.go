package kernel

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey identifies a reproducible run. Two runs with the same key,
// model and end time produce identical results however they are partitioned.
type SimulationKey int64

// SubsystemTimeline returns the RNG subsystem name for a timeline serial.
func SubsystemTimeline(serial uint32) string {
	return fmt.Sprintf("timeline_%d", serial)
}

// PartitionedRNG hands out isolated, deterministically seeded streams keyed by
// subsystem name. The derived seed is key XOR fnv1a64(name), so a timeline's
// stream depends only on the key and its serial, never on which universe or
// machine runs it.
//
// Not thread-safe: streams are created during Init, before universes start.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the cached stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
