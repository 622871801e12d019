// Package cluster runs every machine of a distributed simulation inside one
// process. Machines are connected by a loopback transport, so a multi-machine
// run behaves exactly like one spread over real hosts, minus the network.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pdes/kernel"
	"github.com/inference-sim/pdes/kernel/transport"
)

// BuildFactory returns the build function of one machine. Every machine must
// build the same model, but each needs its own model instance.
type BuildFactory func(rank int) kernel.BuildFunc

// Machine is one finished machine of a run.
type Machine struct {
	Sim     *kernel.Simulation
	Metrics *kernel.Metrics
}

// Run creates cfg.Machines simulations sharing runID, runs them to the end
// time and finalizes them. The returned error is the root cause of a failed
// run: when one machine fails, the others abort with kernel.ErrAborted, and
// those secondary errors are only reported when nothing else is.
func Run(ctx context.Context, cfg kernel.Config, runID string, factory BuildFactory) ([]Machine, error) {
	n := cfg.Machines
	var comms []*transport.Loopback
	if n > 1 {
		comms = transport.NewLoopback(n)
	}
	sims := make([]*kernel.Simulation, n)
	for rank := range sims {
		opts := []kernel.Option{kernel.WithRunID(runID)}
		if comms != nil {
			opts = append(opts, kernel.WithComm(comms[rank]))
		}
		s, err := kernel.New(cfg, opts...)
		if err != nil {
			return nil, err
		}
		if err := s.Init(factory(rank)); err != nil {
			return nil, fmt.Errorf("machine %d: %w", rank, err)
		}
		sims[rank] = s
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for rank, s := range sims {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = s.Start(ctx)
		}()
	}
	wg.Wait()
	if err := rootCause(errs); err != nil {
		return nil, err
	}

	out := make([]Machine, n)
	for rank, s := range sims {
		m, err := s.Finalize()
		if err != nil {
			return nil, fmt.Errorf("machine %d: %w", rank, err)
		}
		out[rank] = Machine{Sim: s, Metrics: m}
	}
	logrus.Debugf("cluster run %s: %d machines finished", runID, n)
	return out, nil
}

func rootCause(errs []error) error {
	var secondary error
	for rank, err := range errs {
		if err == nil {
			continue
		}
		err = fmt.Errorf("machine %d: %w", rank, err)
		if !errors.Is(err, kernel.ErrAborted) {
			return err
		}
		if secondary == nil {
			secondary = err
		}
	}
	return secondary
}
