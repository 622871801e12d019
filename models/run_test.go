package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pdes/internal/testutil"
	"github.com/inference-sim/pdes/kernel"
	"github.com/inference-sim/pdes/models"
)

func TestPingPong_TenServesInHundredTicks(t *testing.T) {
	// GIVEN two players 10 ticks apart and a run ending at 100
	cfg := testutil.Config(1, 1, kernel.FromTicks(100))
	m := models.NewPingPong(kernel.FromTicks(10))

	// WHEN the run completes
	_, err := testutil.RunCluster(t, cfg, func(int) kernel.BuildFunc { return m.Build })
	require.NoError(t, err)

	// THEN balls left at 0, 10, ..., 90 and the one sent at 90 is still in
	// flight at the end time
	r := m.Report()
	assert.Equal(t, int64(10), m.Sent())
	assert.Equal(t, int64(10), r.Sent)
	assert.Equal(t, int64(9), r.Received)
	assert.Equal(t, int64(9), m.LastHit())
}

func TestPingPong_PlayersOnSeparateUniverses(t *testing.T) {
	cfg := testutil.Config(1, 2, kernel.FromTicks(100))
	r, machines := testutil.RunModel(t, cfg, "pingpong", models.Params{Lookahead: kernel.FromTicks(10)})
	assert.Equal(t, int64(10), r.Sent)
	assert.Equal(t, int64(9), r.Received)
	require.Len(t, machines, 1)
	assert.Equal(t, int64(10), machines[0].Metrics.ChannelMessages)
}

func TestPHOLD_EveryEntityStartsWithItsPopulation(t *testing.T) {
	// GIVEN a run too short for any job to arrive
	p := models.Params{Timelines: 4, Lookahead: kernel.FromTicks(10), Population: 3}
	r, _ := testutil.RunModel(t, testutil.Config(1, 1, kernel.FromTicks(5)), "phold", p)

	// THEN only the initial jobs were sent
	assert.Equal(t, 4, r.Entities)
	assert.Equal(t, int64(12), r.Sent)
	assert.Zero(t, r.Received)
}

func TestPHOLD_JobsAreConserved(t *testing.T) {
	// every received job is forwarded exactly once, so sent = initial + received
	p := models.Params{Timelines: 6, Lookahead: kernel.FromTicks(10), Population: 2}
	r, _ := testutil.RunModel(t, testutil.Config(1, 3, kernel.FromTicks(2_000)), "phold", p)
	assert.Positive(t, r.Received)
	assert.Equal(t, int64(12)+r.Received, r.Sent)
}

func TestRing_TokensCirculateAndAuditsRun(t *testing.T) {
	p := models.Params{Timelines: 4, Lookahead: kernel.FromTicks(10), Population: 3}
	m, err := models.New("ring", p)
	require.NoError(t, err)
	ring := m.(*models.Ring)

	_, err = testutil.RunCluster(t, testutil.Config(1, 2, kernel.FromTicks(1_000)), func(int) kernel.BuildFunc { return ring.Build })
	require.NoError(t, err)

	r := ring.Report()
	assert.Positive(t, r.Received)
	assert.GreaterOrEqual(t, r.Sent, r.Received)
	// audits fire every 50 ticks on each of the four stations: 50, 100, ..., 950
	assert.Equal(t, int64(4*19), ring.Audits())
}

func TestModels_SameResultWhateverThePartition(t *testing.T) {
	p := models.Params{Timelines: 8, Lookahead: kernel.FromTicks(10), Population: 4}
	end := kernel.FromTicks(3_000)
	for _, name := range models.Names() {
		t.Run(name, func(t *testing.T) {
			want, _ := testutil.RunModel(t, testutil.Config(1, 1, end), name, p)
			for _, placement := range [][2]int{{1, 4}, {2, 2}, {4, 1}} {
				got, _ := testutil.RunModel(t, testutil.Config(placement[0], placement[1], end), name, p)
				assert.Equal(t, want, got, "machines=%d procs=%d", placement[0], placement[1])
			}
		})
	}
}
