package trace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationTrace_Record_AppendsRecords(t *testing.T) {
	// GIVEN a trace configured for windows
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelWindows, RunID: "run-1"})

	// WHEN one record of each kind is recorded
	st.RecordWindow(WindowRecord{Index: 0, Start: 0, End: 10, Phase: "steady"})
	st.RecordTraining(TrainingRecord{Round: 0, Tier: "local", Candidate: 10, CostSeconds: 0.5})
	st.RecordDecision(DecisionRecord{Tier: "local", Value: 10, Reason: "trained"})

	// THEN each slice holds exactly that record
	require.Len(t, st.Windows, 1)
	require.Len(t, st.Training, 1)
	require.Len(t, st.Decisions, 1)
	assert.Equal(t, int64(10), st.Windows[0].End)
	assert.Equal(t, "trained", st.Decisions[0].Reason)
}

func TestTraceConfig_Levels(t *testing.T) {
	assert.False(t, TraceConfig{Level: TraceLevelNone}.Training())
	assert.True(t, TraceConfig{Level: TraceLevelTraining}.Training())
	assert.False(t, TraceConfig{Level: TraceLevelTraining}.Windows())
	assert.True(t, TraceConfig{Level: TraceLevelWindows}.Training())
	assert.True(t, TraceConfig{Level: TraceLevelWindows}.Windows())
}

func TestIsValidTraceLevel(t *testing.T) {
	for _, level := range []string{"", "none", "training", "windows"} {
		assert.True(t, IsValidTraceLevel(level), level)
	}
	assert.False(t, IsValidTraceLevel("decisions"))
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer store.Close()

	st := NewSimulationTrace(TraceConfig{Level: TraceLevelWindows, RunID: "run-42"})
	st.RecordWindow(WindowRecord{Machine: 1, Index: 0, End: 5, Decade: 5, Epoch: 10, EpochBegin: true, Phase: "steady", WallSeconds: 0.01})
	st.RecordWindow(WindowRecord{Machine: 1, Index: 1, Start: 5, End: 10, Decade: 5, Epoch: 10, Phase: "steady", WallSeconds: 0.02})
	st.RecordTraining(TrainingRecord{Machine: 1, Round: 0, Tier: "local", Candidate: 5, End: 20, CostSeconds: 0.1})
	st.RecordDecision(DecisionRecord{Machine: 1, Tier: "local", Value: 5, Reason: "trained"})
	st.RecordDecision(DecisionRecord{Machine: 1, Tier: "global", Value: 10, Reason: "default"})

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, 1, "{}", st))

	n, err := store.CountWindows(ctx, "run-42")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	decisions, err := store.LoadDecisions(ctx, "run-42")
	require.NoError(t, err)
	assert.Equal(t, []DecisionRecord{
		{Machine: 1, Tier: "global", Value: 10, Reason: "default"},
		{Machine: 1, Tier: "local", Value: 5, Reason: "trained"},
	}, decisions)
}

func TestStore_Save_RequiresRunID(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer store.Close()

	err = store.Save(context.Background(), 0, "{}", NewSimulationTrace(TraceConfig{}))
	assert.Error(t, err)
}
