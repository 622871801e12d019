package trace

import "gonum.org/v1/gonum/stat"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalWindows     int
	Epochs           int
	TrainingRounds   int
	MeanWindowWall   float64
	MaxWindowWall    float64
	PhaseWindows     map[string]int     // phase → window count
	BestRoundCost    map[string]float64 // tier → cheapest round cost
	ChosenThresholds map[string]int64   // tier → final threshold
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		PhaseWindows:     make(map[string]int),
		BestRoundCost:    make(map[string]float64),
		ChosenThresholds: make(map[string]int64),
	}
	if st == nil {
		return summary
	}

	summary.TotalWindows = len(st.Windows)
	if len(st.Windows) > 0 {
		walls := make([]float64, len(st.Windows))
		for i, w := range st.Windows {
			walls[i] = w.WallSeconds
			summary.PhaseWindows[w.Phase]++
			if w.EpochBegin {
				summary.Epochs++
			}
			if w.WallSeconds > summary.MaxWindowWall {
				summary.MaxWindowWall = w.WallSeconds
			}
		}
		summary.MeanWindowWall = stat.Mean(walls, nil)
	}

	summary.TrainingRounds = len(st.Training)
	for _, r := range st.Training {
		if best, ok := summary.BestRoundCost[r.Tier]; !ok || r.CostSeconds < best {
			summary.BestRoundCost[r.Tier] = r.CostSeconds
		}
	}

	for _, d := range st.Decisions {
		summary.ChosenThresholds[d.Tier] = d.Value
	}

	return summary
}
