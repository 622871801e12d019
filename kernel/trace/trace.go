package trace

// TraceLevel controls the verbosity of scheduler tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelTraining captures threshold training rounds and decisions.
	TraceLevelTraining TraceLevel = "training"
	// TraceLevelWindows additionally captures every synchronization window.
	TraceLevelWindows TraceLevel = "windows"
)

var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelTraining: true,
	TraceLevelWindows:  true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	RunID string
}

// Windows reports whether per-window records are collected.
func (c TraceConfig) Windows() bool { return c.Level == TraceLevelWindows }

// Training reports whether training records are collected.
func (c TraceConfig) Training() bool {
	return c.Level == TraceLevelTraining || c.Level == TraceLevelWindows
}

// SimulationTrace collects scheduler records of one machine. Records are only
// appended by the barrier leader, so no locking is needed.
type SimulationTrace struct {
	Config    TraceConfig
	Windows   []WindowRecord
	Training  []TrainingRecord
	Decisions []DecisionRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:    config,
		Windows:   make([]WindowRecord, 0),
		Training:  make([]TrainingRecord, 0),
		Decisions: make([]DecisionRecord, 0),
	}
}

// RecordWindow appends a window record.
func (st *SimulationTrace) RecordWindow(record WindowRecord) {
	st.Windows = append(st.Windows, record)
}

// RecordTraining appends a training round record.
func (st *SimulationTrace) RecordTraining(record TrainingRecord) {
	st.Training = append(st.Training, record)
}

// RecordDecision appends a threshold decision.
func (st *SimulationTrace) RecordDecision(record DecisionRecord) {
	st.Decisions = append(st.Decisions, record)
}
