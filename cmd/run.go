package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pdes/kernel"
	"github.com/inference-sim/pdes/kernel/cluster"
	"github.com/inference-sim/pdes/kernel/trace"
	"github.com/inference-sim/pdes/models"
)

// runResult is the outcome of one run over every machine.
type runResult struct {
	RunID    string
	Config   kernel.Config
	Report   models.Report
	Machines []cluster.Machine
}

// runModel runs the named reference model on an in-process cluster of
// cfg.Machines machines, each with its own model instance.
func runModel(ctx context.Context, cfg kernel.Config, name string, p models.Params) (*runResult, error) {
	instances := make([]models.Model, cfg.Machines)
	for i := range instances {
		m, err := models.New(name, p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kernel.ErrConfig, err)
		}
		instances[i] = m
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	machines, err := cluster.Run(ctx, cfg, id.String(), func(rank int) kernel.BuildFunc {
		return instances[rank].Build
	})
	if err != nil {
		return nil, err
	}
	reports := make([]models.Report, len(instances))
	for i, m := range instances {
		reports[i] = m.Report()
	}
	res := &runResult{RunID: id.String(), Config: cfg, Report: models.Merge(reports...), Machines: machines}
	logrus.Infof("Run %s: %s", res.RunID, res.Report)
	return res, nil
}

// print writes the merged model report followed by every machine's metrics.
func (r *runResult) print(w io.Writer, summary bool) {
	fmt.Fprintf(w, "=== Model Report ===\n%s\n", r.Report)
	for _, m := range r.Machines {
		m.Metrics.Print(w)
		if summary {
			printSummary(w, trace.Summarize(m.Sim.Trace()))
		}
	}
}

func printSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Windows              : %d (%d epochs)\n", s.TotalWindows, s.Epochs)
	for _, phase := range slices.Sorted(maps.Keys(s.PhaseWindows)) {
		fmt.Fprintf(w, "  %-19s: %d\n", phase, s.PhaseWindows[phase])
	}
	fmt.Fprintf(w, "Training Rounds      : %d\n", s.TrainingRounds)
	for _, tier := range []string{"local", "global"} {
		if v, ok := s.ChosenThresholds[tier]; ok {
			fmt.Fprintf(w, "Chosen %-14s: %s\n", tier, kernel.FromTicks(v))
		}
	}
	if s.TotalWindows > 0 {
		fmt.Fprintf(w, "Window Wall (mean)   : %.6fs\n", s.MeanWindowWall)
		fmt.Fprintf(w, "Window Wall (max)    : %.6fs\n", s.MaxWindowWall)
	}
}

// saveTraces stores every machine's trace in the SQLite database at path.
func (r *runResult) saveTraces(ctx context.Context, path string) error {
	store, err := trace.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	desc := r.Config.String()
	for _, m := range r.Machines {
		if err := store.Save(ctx, m.Sim.Rank(), desc, m.Sim.Trace()); err != nil {
			return fmt.Errorf("machine %d: %w", m.Sim.Rank(), err)
		}
	}
	return nil
}
