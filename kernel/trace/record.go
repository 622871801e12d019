// Package trace records scheduler behaviour for offline analysis: the
// synchronization windows a machine went through, the cost of each training
// round and the thresholds finally chosen.
// This package has no dependencies on kernel/; times are raw ticks.
package trace

// WindowRecord captures one synchronization window.
type WindowRecord struct {
	Machine     int
	Index       int
	Start       int64
	End         int64
	Decade      int64
	Epoch       int64
	EpochBegin  bool
	Phase       string // "local", "global" while training, "steady" afterwards
	WallSeconds float64
}

// TrainingRecord captures one training round.
type TrainingRecord struct {
	Machine     int
	Round       int
	Tier        string
	Candidate   int64
	Start       int64
	End         int64
	CostSeconds float64
}

// DecisionRecord captures the threshold chosen for a tier.
type DecisionRecord struct {
	Machine int
	Tier    string
	Value   int64
	Reason  string // "trained", "agreed", "default" or "manual"
}
