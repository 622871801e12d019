// Package testutil provides shared test infrastructure for the kernel, the
// reference models and the CLI: configurations for small runs, a helper that
// runs a reference model over an in-process cluster, and float assertions.
package testutil

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/inference-sim/pdes/kernel"
	"github.com/inference-sim/pdes/kernel/cluster"
	"github.com/inference-sim/pdes/models"
)

// runTimeout bounds every cluster run so a protocol deadlock fails the test
// instead of hanging it.
const runTimeout = 30 * time.Second

// Config returns a configuration for a small run with the given placement.
func Config(machines, procs int, end kernel.VirtualTime) kernel.Config {
	cfg := kernel.DefaultConfig()
	cfg.Machines = machines
	cfg.Procs = procs
	cfg.EndTime = end
	return cfg
}

// RunModel runs the named reference model on every machine of cfg and returns
// the merged report together with the per-machine results.
func RunModel(t *testing.T, cfg kernel.Config, name string, p models.Params) (models.Report, []cluster.Machine) {
	t.Helper()
	instances := make([]models.Model, cfg.Machines)
	for i := range instances {
		m, err := models.New(name, p)
		if err != nil {
			t.Fatalf("model %q: %v", name, err)
		}
		instances[i] = m
	}
	machines, err := RunCluster(t, cfg, func(rank int) kernel.BuildFunc { return instances[rank].Build })
	if err != nil {
		t.Fatalf("run %s on %d/%d: %v", name, cfg.Machines, cfg.Procs, err)
	}
	reports := make([]models.Report, len(instances))
	for i, m := range instances {
		reports[i] = m.Report()
	}
	return models.Merge(reports...), machines
}

// RunCluster runs a cluster under the test timeout.
func RunCluster(t *testing.T, cfg kernel.Config, factory cluster.BuildFactory) ([]cluster.Machine, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	return cluster.Run(ctx, cfg, t.Name(), factory)
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
