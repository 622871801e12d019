package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainer_PicksCheapestCandidatePerTier(t *testing.T) {
	// GIVEN three local candidates followed by two global ones
	tr := NewTrainer(100,
		TrainingTier{Tier: TierLocal, Candidates: []VirtualTime{10, 20, 30}},
		TrainingTier{Tier: TierGlobal, Candidates: []VirtualTime{40, 80}},
		TrainingTier{Tier: TierIntra},
	)
	require.Equal(t, 5, tr.Rounds())

	// WHEN the rounds cost 5, 2, 5 and then 3, 1
	for i, cost := range []float64{5, 2, 5} {
		tier, cand, ok := tr.Current()
		require.True(t, ok)
		assert.Equal(t, TierLocal, tier)
		assert.Equal(t, VirtualTime(10*(i+1)), cand)
		done, finished := tr.Record(cost)
		assert.Equal(t, i == 2, finished)
		if finished {
			assert.Equal(t, TierLocal, done)
		}
	}
	_, ok := tr.Best(TierGlobal)
	assert.False(t, ok, "global tier not finished yet")
	tr.Record(3)
	done, finished := tr.Record(1)

	// THEN the middle local candidate and the second global one win
	assert.True(t, finished)
	assert.Equal(t, TierGlobal, done)
	assert.True(t, tr.Done())
	best, ok := tr.Best(TierLocal)
	require.True(t, ok)
	assert.Equal(t, VirtualTime(20), best)
	best, _ = tr.Best(TierGlobal)
	assert.Equal(t, VirtualTime(80), best)
	assert.Equal(t, []float64{5, 2, 5}, tr.Costs(TierLocal))
	assert.Panics(t, func() { tr.Record(1) })
}

func TestSelectCandidates_KeepsMostUsedLookaheads(t *testing.T) {
	weights := map[VirtualTime]int{10: 5, 20: 1, 30: 5, 40: 2}
	assert.Equal(t, []VirtualTime{10, 20, 30, 40}, selectCandidates(weights, 10))
	assert.Equal(t, []VirtualTime{10, 30, 40}, selectCandidates(weights, 3))
	assert.Equal(t, []VirtualTime{30}, selectCandidates(weights, 1), "ties go to the larger lookahead")
	assert.Empty(t, selectCandidates(nil, 3))
}

func TestPlanTraining(t *testing.T) {
	base := DefaultConfig()
	base.EndTime = 10_000
	local := map[VirtualTime]int{10: 3, 20: 1}
	global := map[VirtualTime]int{50: 2}

	t.Run("trains both tiers on several machines", func(t *testing.T) {
		p := planTraining(base, local, global, 2)
		require.NotNil(t, p.trainer)
		assert.Equal(t, 3, p.trainer.Rounds())
		assert.Equal(t, VirtualTime(500/3), p.trainer.RoundLength())
		assert.Equal(t, VirtualTime(10), p.decade)
		assert.Equal(t, VirtualTime(50), p.epoch)
	})
	t.Run("one machine has no global tier", func(t *testing.T) {
		p := planTraining(base, local, global, 1)
		require.NotNil(t, p.trainer)
		assert.Equal(t, 2, p.trainer.Rounds())
		assert.Equal(t, base.EndTime, p.epoch)
	})
	t.Run("manual thresholds skip training", func(t *testing.T) {
		cfg := base
		cfg.Decade, cfg.Epoch = 25, 75
		p := planTraining(cfg, local, global, 2)
		assert.Nil(t, p.trainer)
		assert.Equal(t, VirtualTime(25), p.decade)
		assert.Equal(t, VirtualTime(75), p.epoch)
		assert.Equal(t, "no candidate thresholds", p.skipped)
	})
	t.Run("zero budget", func(t *testing.T) {
		cfg := base
		cfg.TrainingFraction = 0
		p := planTraining(cfg, local, global, 1)
		assert.Nil(t, p.trainer)
		assert.Equal(t, "training budget is zero", p.skipped)
		assert.Equal(t, VirtualTime(10), p.decade)
	})
	t.Run("rounds shorter than the largest candidate", func(t *testing.T) {
		cfg := base
		cfg.EndTime = 300
		p := planTraining(cfg, local, global, 1)
		assert.Nil(t, p.trainer)
		assert.Contains(t, p.skipped, "shorter than the largest candidate")
	})
	t.Run("no gates at all", func(t *testing.T) {
		p := planTraining(base, nil, nil, 1)
		assert.Nil(t, p.trainer)
		assert.Equal(t, base.EndTime, p.decade)
	})
	t.Run("epoch never below decade", func(t *testing.T) {
		p := planTraining(base, map[VirtualTime]int{80: 1}, global, 2)
		assert.Equal(t, VirtualTime(80), p.epoch)
	})
}
