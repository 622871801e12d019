package kernel

import (
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// TrainingTier is the set of candidate thresholds tried for one window kind.
type TrainingTier struct {
	Tier       GateTier // TierLocal for the decade, TierGlobal for the epoch
	Candidates []VirtualTime
	costs      []float64
}

// Trainer runs one round per candidate, tier after tier, and keeps the
// wall-clock cost of each round. The cheapest candidate of a tier wins.
type Trainer struct {
	roundLen VirtualTime
	tiers    []*TrainingTier
	tier     int
	idx      int
}

// NewTrainer creates a trainer whose rounds last roundLen of virtual time.
// Tiers without candidates are dropped.
func NewTrainer(roundLen VirtualTime, tiers ...TrainingTier) *Trainer {
	t := &Trainer{roundLen: roundLen}
	for _, tt := range tiers {
		if len(tt.Candidates) == 0 {
			continue
		}
		tt.costs = make([]float64, 0, len(tt.Candidates))
		t.tiers = append(t.tiers, &tt)
	}
	return t
}

func (t *Trainer) RoundLength() VirtualTime { return t.roundLen }

// Rounds returns the total number of rounds over all tiers.
func (t *Trainer) Rounds() int {
	n := 0
	for _, tt := range t.tiers {
		n += len(tt.Candidates)
	}
	return n
}

// Done reports whether every round has been recorded.
func (t *Trainer) Done() bool { return t.tier >= len(t.tiers) }

// Current returns the tier and candidate of the round in progress.
func (t *Trainer) Current() (GateTier, VirtualTime, bool) {
	if t.Done() {
		return 0, 0, false
	}
	tt := t.tiers[t.tier]
	return tt.Tier, tt.Candidates[t.idx], true
}

// Record stores the cost of the current round and moves to the next one.
// It returns the tier whose last round this was, if any.
func (t *Trainer) Record(cost float64) (GateTier, bool) {
	if t.Done() {
		panic("trainer: round recorded after training finished")
	}
	tt := t.tiers[t.tier]
	tt.costs = append(tt.costs, cost)
	t.idx++
	if t.idx < len(tt.Candidates) {
		return 0, false
	}
	t.tier++
	t.idx = 0
	return tt.Tier, true
}

// Best returns the cheapest candidate of a completed tier.
func (t *Trainer) Best(tier GateTier) (VirtualTime, bool) {
	for _, tt := range t.tiers {
		if tt.Tier != tier || len(tt.costs) != len(tt.Candidates) {
			continue
		}
		return tt.Candidates[floats.MinIdx(tt.costs)], true
	}
	return 0, false
}

// Costs returns the recorded costs of a tier.
func (t *Trainer) Costs(tier GateTier) []float64 {
	for _, tt := range t.tiers {
		if tt.Tier == tier {
			return slices.Clone(tt.costs)
		}
	}
	return nil
}

// selectCandidates turns a lookahead histogram into candidate thresholds.
// When there are more distinct values than limit, the ones carried by the most
// edges are kept, larger values winning ties. The result is ascending.
func selectCandidates(weights map[VirtualTime]int, limit int) []VirtualTime {
	out := make([]VirtualTime, 0, len(weights))
	for d := range weights {
		out = append(out, d)
	}
	if limit > 0 && len(out) > limit {
		sort.Slice(out, func(i, j int) bool {
			wi, wj := weights[out[i]], weights[out[j]]
			if wi != wj {
				return wi > wj
			}
			return out[i] > out[j]
		})
		out = out[:limit]
	}
	slices.Sort(out)
	return out
}

// trainingPlan holds the thresholds and trainer decided before the run.
type trainingPlan struct {
	decade, epoch VirtualTime
	trainer       *Trainer
	skipped       string
}

// planTraining chooses the default thresholds and, when enough budget and
// candidates exist, a trainer to tune them. Every input is identical on
// every machine, so the plan is too.
func planTraining(cfg Config, local, global map[VirtualTime]int, machines int) trainingPlan {
	runLen := cfg.EndTime
	p := trainingPlan{decade: cfg.Decade, epoch: cfg.Epoch}
	if p.decade <= 0 {
		p.decade = runLen
		if len(local) > 0 {
			p.decade = slices.Min(mapKeys(local))
		}
	}
	if p.epoch <= 0 {
		p.epoch = runLen
		if machines > 1 && len(global) > 0 {
			p.epoch = MaxTime(p.decade, slices.Min(mapKeys(global)))
		}
	}

	var tiers []TrainingTier
	largest := VirtualTime(0)
	add := func(tier GateTier, weights map[VirtualTime]int) {
		c := selectCandidates(weights, cfg.MaxCandidates)
		if len(c) == 0 {
			return
		}
		tiers = append(tiers, TrainingTier{Tier: tier, Candidates: c})
		largest = MaxTime(largest, c[len(c)-1])
	}
	if cfg.Decade <= 0 {
		add(TierLocal, local)
	}
	if cfg.Epoch <= 0 && machines > 1 {
		add(TierGlobal, global)
	}
	if len(tiers) == 0 {
		p.skipped = "no candidate thresholds"
		return p
	}
	rounds := 0
	for _, tt := range tiers {
		rounds += len(tt.Candidates)
	}
	budget := runLen.Scale(cfg.TrainingFraction)
	if budget <= 0 {
		p.skipped = "training budget is zero"
		return p
	}
	roundLen := budget.Div(int64(rounds))
	if roundLen < largest {
		p.skipped = fmt.Sprintf("round length %s is shorter than the largest candidate %s", roundLen, largest)
		return p
	}
	p.trainer = NewTrainer(roundLen, tiers...)
	return p
}

func mapKeys(m map[VirtualTime]int) []VirtualTime {
	out := make([]VirtualTime, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
