package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/inference-sim/pdes/kernel/trace"
	"github.com/inference-sim/pdes/kernel/transport"
)

// BuildFunc builds the model. It runs once per machine, and every machine must
// build the same model.
type BuildFunc func(b *Builder) error

type simPhase uint8

const (
	phaseCreated simPhase = iota
	phaseInitialized
	phaseRunning
	phaseFinished
	phaseFinalized
)

// Phase names used in trace records.
const (
	PhaseSteady = "steady"
)

// Window is one synchronization window, planned by the barrier leader.
type Window struct {
	Index      int
	Start, End VirtualTime
	Decade     VirtualTime
	Epoch      VirtualTime
	EpochBegin bool        // first window of an epoch
	EpochEnd   VirtualTime // end of the epoch the window belongs to
	Phase      string
	Done       bool // the run has reached its end time
}

// Option configures New.
type Option func(*Simulation)

// WithComm connects the simulation to the other machines of a run.
func WithComm(c transport.Comm) Option {
	return func(s *Simulation) { s.comm = c }
}

// WithRunID sets the run id shared by every machine. A UUIDv7 is generated
// when it is not set.
func WithRunID(id string) Option {
	return func(s *Simulation) { s.runID = id }
}

// Simulation is one machine of a run: the universes that execute its
// timelines, the barrier they share and the bridge to the other machines.
// Its lifecycle is New, Init, Start, Finalize; calling them out of order
// returns ErrPhase.
type Simulation struct {
	cfg      Config
	rank     int
	machines int
	comm     transport.Comm
	runID    string
	phase    simPhase
	log      *logrus.Entry

	topo      *Topology
	local     []*Timeline
	hosted    []*Stargate
	universes []*Universe
	barrier   *Barrier
	exchange  [][]eventChain
	outbox    *Mailbox
	bridge    *bridge
	trace     *trace.SimulationTrace

	start, end VirtualTime
	wallStart  time.Time
	runCtx     context.Context
	cancel     context.CancelFunc
	errOnce    sync.Once
	err        error

	// leader state, only touched inside barrier actions
	window      Window
	windows     int
	epochs      int
	decade      VirtualTime
	epoch       VirtualTime
	base        VirtualTime
	roundEnd    VirtualTime
	roundStart  VirtualTime
	roundWall   time.Time
	windowWall  time.Time
	windowWalls []float64
	trainer     *Trainer
	training    bool
	rounds      int
	phaseName   string

	metrics *Metrics
}

// New validates cfg and creates the simulation of one machine.
func New(cfg Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := SetTickScale(cfg.TickSeconds); err != nil {
		return nil, err
	}
	s := &Simulation{cfg: cfg, machines: cfg.Machines, end: cfg.EndTime}
	for _, opt := range opts {
		opt(s)
	}
	switch {
	case s.comm == nil && cfg.Machines > 1:
		return nil, configErrorf("%d machines configured without a transport", cfg.Machines)
	case s.comm != nil && s.comm.Size() != cfg.Machines:
		return nil, configErrorf("transport connects %d machines, config says %d", s.comm.Size(), cfg.Machines)
	case s.comm != nil:
		s.rank = s.comm.Rank()
	}
	if s.runID == "" {
		s.runID = uuid.Must(uuid.NewV7()).String()
	}
	s.log = logrus.WithFields(logrus.Fields{"run": s.runID, "machine": s.rank})
	s.trace = trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(cfg.TraceLevel), RunID: s.runID})
	return s, nil
}

func (s *Simulation) RunID() string                 { return s.runID }
func (s *Simulation) Rank() int                     { return s.rank }
func (s *Simulation) Config() Config                { return s.cfg }
func (s *Simulation) Topology() *Topology           { return s.topo }
func (s *Simulation) Universes() []*Universe        { return s.universes }
func (s *Simulation) Trace() *trace.SimulationTrace { return s.trace }

// Init builds the model, freezes it and places this machine's timelines on
// universes.
func (s *Simulation) Init(build BuildFunc) error {
	if s.phase != phaseCreated {
		return phaseErrorf("Init called twice")
	}
	b := newBuilder()
	if err := build(b); err != nil {
		return fmt.Errorf("build model: %w", err)
	}
	topo, err := b.freeze()
	if err != nil {
		return err
	}
	topo.partition(s.machines, s.cfg.Procs)
	s.topo = topo

	procs := s.cfg.Procs
	s.barrier = NewBarrier(procs)
	s.outbox = NewMailbox(nil)
	s.universes = make([]*Universe, procs)
	s.exchange = make([][]eventChain, procs)
	for i := range s.universes {
		s.universes[i] = newUniverse(i, s)
		s.exchange[i] = make([]eventChain, procs)
	}

	rng := NewPartitionedRNG(SimulationKey(s.cfg.Seed))
	for _, tl := range topo.timelines {
		tl.endTime = s.end
		tl.rng = rng.ForSubsystem(SubsystemTimeline(tl.serial))
		if tl.machine != s.rank {
			continue
		}
		u := s.universes[tl.proc]
		tl.universe = u
		u.timelines = append(u.timelines, tl)
		s.local = append(s.local, tl)
	}

	for _, g := range topo.gates {
		srcHere, dstHere := g.src.machine == s.rank, g.dst.machine == s.rank
		if !srcHere && !dstHere {
			continue
		}
		switch {
		case g.tier == TierLocal, g.tier == TierGlobal && dstHere:
			g.mailbox = NewMailbox(g.dst.universe.signal)
			g.dst.mailGates = append(g.dst.mailGates, g)
		case g.tier == TierGlobal:
			g.outbox = s.outbox
		}
		g.sendTime = s.start.Add(g.minDelay)
		g.recvTime = g.sendTime
		s.hosted = append(s.hosted, g)
	}
	if s.machines > 1 {
		s.bridge = newBridge(s.comm, topo, s.outbox, s.cfg.PackThreshold)
	}
	s.phase = phaseInitialized
	s.log.Infof("initialized: %d entities, %d timelines (%d local), %d stargates, %d universes",
		len(topo.entities), len(topo.timelines), len(s.local), len(topo.gates), procs)
	return nil
}

// Start runs the simulation to its end time. It returns the first error of
// any universe, of the transport or of another machine (wrapped in
// ErrAborted), or the context's error if it is cancelled.
func (s *Simulation) Start(ctx context.Context) error {
	if s.phase != phaseInitialized {
		return phaseErrorf("Start requires an initialized simulation")
	}
	s.phase = phaseRunning
	s.runCtx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()
	s.wallStart = time.Now()

	if err := s.beginRun(); err != nil {
		return err
	}

	var bridgeWG sync.WaitGroup
	if s.bridge != nil {
		loops := []func(context.Context) error{s.bridge.runWriter, s.bridge.runReader}
		if s.combinedTransport() {
			loops = []func(context.Context) error{s.bridge.runCombined}
		}
		for _, loop := range loops {
			bridgeWG.Add(1)
			go func() {
				defer bridgeWG.Done()
				if err := loop(s.runCtx); err != nil {
					s.abort(err)
				}
			}()
		}
	}

	var wg sync.WaitGroup
	for _, u := range s.universes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := u.run(s.runCtx); err != nil {
				s.abort(err)
			}
		}()
	}
	wg.Wait()

	s.outbox.Close()
	s.cancel()
	bridgeWG.Wait()

	if s.err != nil {
		s.log.Errorf("run failed: %v", s.err)
		return s.err
	}
	s.phase = phaseFinished
	s.log.Infof("run finished at %s after %d windows in %s", s.end, s.windows, time.Since(s.wallStart))
	return nil
}

// combinedTransport reports whether the bridge must serve both directions
// from one goroutine: when configured so, or when the runtime does not allow
// concurrent Send and Recv.
func (s *Simulation) combinedTransport() bool {
	if s.cfg.TransportMode == TransportCombined {
		return true
	}
	if !s.comm.ThreadSafe() {
		s.log.Warnf("transport is not thread-safe, using %s mode instead of %s", TransportCombined, s.cfg.TransportMode)
		return true
	}
	return false
}

// abort records the first failure and unblocks everything that might wait
// for this machine: local universes, the bridge and the other machines.
// A failure relayed by the transport is reported as ErrAborted.
func (s *Simulation) abort(err error) {
	if errors.Is(err, transport.ErrAborted) && !errors.Is(err, ErrAborted) {
		err = fmt.Errorf("%w: %v", ErrAborted, err)
	}
	s.errOnce.Do(func() {
		s.err = err
		s.barrier.Abort(err)
		if s.comm != nil {
			s.comm.Abort(err)
		}
		s.cancel()
		s.outbox.Close()
	})
}

// Finalize runs the entities' finalize callbacks in serial order and returns
// the run metrics.
func (s *Simulation) Finalize() (*Metrics, error) {
	if s.phase != phaseFinished {
		return nil, phaseErrorf("Finalize requires a finished run")
	}
	s.phase = phaseFinalized
	for _, tl := range s.local {
		tl.finalize()
	}
	s.metrics = s.collectMetrics()
	return s.metrics, nil
}

func (s *Simulation) collectMetrics() *Metrics {
	m := &Metrics{
		RunID:          s.runID,
		Machine:        s.rank,
		Universes:      len(s.universes),
		Timelines:      len(s.local),
		EndTime:        s.end,
		Windows:        s.windows,
		Epochs:         s.epochs,
		TrainingRounds: s.rounds,
		Decade:         s.decade,
		Epoch:          s.epoch,
		WallTime:       time.Since(s.wallStart),
	}
	for _, tl := range s.local {
		m.EventsDispatched += tl.dispatched
	}
	for _, g := range s.hosted {
		if g.src.machine == s.rank {
			m.ChannelMessages += g.sent
			m.NullMessages += g.nulls
		}
	}
	for _, u := range s.universes {
		m.LocalExchanged += u.stats.localOut
		m.TimelineRuns += u.stats.runs
		m.BlockedWaits += u.stats.blockedWaits
	}
	if s.bridge != nil {
		bs := s.bridge.stats()
		m.GlobalSent, m.GlobalReceived = bs.sent, bs.received
		m.BatchesSent, m.BatchesReceived = bs.batchesOut, bs.batchesIn
	}
	if len(s.windowWalls) > 0 {
		m.MeanWindowWall = time.Duration(stat.Mean(s.windowWalls, nil) * float64(time.Second))
	}
	return m
}

// wallFor maps a virtual time to the wall-clock instant real-time events are
// pinned to.
func (s *Simulation) wallFor(t VirtualTime) time.Time {
	return s.wallStart.Add(time.Duration(t.Sub(s.start).Seconds() * float64(time.Second)))
}

// beginRun plans training, classifies every gate for the first window and
// settles the BinQueues unless training will choose their geometry.
func (s *Simulation) beginRun() error {
	local, global := s.topo.lookaheads()
	plan := planTraining(s.cfg, local, global, s.machines)
	s.decade, s.epoch = plan.decade, plan.epoch
	s.trainer = plan.trainer
	if s.trainer == nil {
		if s.cfg.Decade > 0 {
			s.decide(TierLocal, s.decade, "manual")
		} else {
			s.decide(TierLocal, s.decade, "default")
		}
		if s.cfg.Epoch > 0 {
			s.decide(TierGlobal, s.epoch, "manual")
		} else {
			s.decide(TierGlobal, s.epoch, "default")
		}
		if s.cfg.Decade == 0 || (s.cfg.Epoch == 0 && s.machines > 1) {
			s.log.Warnf("threshold training skipped: %s", plan.skipped)
		}
		s.startSteady(s.start)
		return nil
	}
	s.training = true
	s.log.Infof("threshold training: %d rounds of %s", s.trainer.Rounds(), s.trainer.RoundLength())
	s.startRound(s.start)
	return nil
}

func (s *Simulation) decide(tier GateTier, v VirtualTime, reason string) {
	s.log.Infof("%s threshold %s (%s)", tier, v, reason)
	if s.trace.Config.Training() {
		s.trace.RecordDecision(trace.DecisionRecord{Machine: s.rank, Tier: tier.String(), Value: v.Ticks(), Reason: reason})
	}
}

func (s *Simulation) startRound(now VirtualTime) {
	tier, cand, _ := s.trainer.Current()
	if tier == TierGlobal {
		s.epoch = cand
	} else {
		s.decade = cand
	}
	s.phaseName = tier.String()
	s.base = now
	s.roundStart = now
	s.roundEnd = MinTime(now.Add(s.trainer.RoundLength()), s.end)
	s.reclassify(now)
	s.roundWall = time.Now()
	s.log.Debugf("training round %d: %s threshold %s until %s", s.rounds, tier, cand, s.roundEnd)
}

// finishRound records the cost of the round that just ended and moves to the
// next round or to the steady phase.
func (s *Simulation) finishRound(now VirtualTime) error {
	cost := time.Since(s.roundWall).Seconds()
	tier, cand, _ := s.trainer.Current()
	if s.trace.Config.Training() {
		s.trace.RecordTraining(trace.TrainingRecord{
			Machine: s.rank, Round: s.rounds, Tier: tier.String(), Candidate: cand.Ticks(),
			Start: s.roundStart.Ticks(), End: now.Ticks(), CostSeconds: cost,
		})
	}
	s.rounds++
	if done, ok := s.trainer.Record(cost); ok {
		best, _ := s.trainer.Best(done)
		reason := "trained"
		if done == TierGlobal {
			agreed, err := s.comm.AllreduceMin(s.runCtx, best.Ticks())
			if err != nil {
				return fmt.Errorf("agree on epoch: %w", err)
			}
			best = VirtualTime(agreed)
			reason = "agreed"
			s.epoch = best
		} else {
			s.decade = best
		}
		s.decide(done, best, reason)
	}
	if s.trainer.Done() {
		s.training = false
		s.startSteady(now)
		return nil
	}
	s.startRound(now)
	return nil
}

func (s *Simulation) startSteady(now VirtualTime) {
	s.phaseName = PhaseSteady
	s.base = now
	s.roundEnd = Infinity
	s.reclassify(now)
	for _, u := range s.universes {
		u.localBins.Settle(s.decade, s.cfg.NumBins, now)
		u.globalBins.Settle(s.epoch, s.cfg.NumBins, now)
	}
}

func (s *Simulation) reclassify(now VirtualTime) {
	changed := 0
	for _, g := range s.hosted {
		if g.reclassify(now, s.decade, s.epoch) {
			changed++
		}
	}
	for _, tl := range s.local {
		tl.rebuildAsync()
	}
	s.log.Debugf("reclassified at %s with decade %s, epoch %s: %d gates changed", now, s.decade, s.epoch, changed)
}

// alignUp returns the first boundary of the grid base + k*length after now.
func alignUp(now, base, length VirtualTime) VirtualTime {
	if length.IsInfinite() {
		return Infinity
	}
	k := int64((now-base)/length) + 1
	return base.Add(length.Mul(k))
}

// endWindow is the leader action of the first barrier: it closes the window
// that just ended and plans the next one.
func (s *Simulation) endWindow() error {
	now := s.start
	if s.windows > 0 {
		prev := s.window
		now = prev.End
		s.recordWindow(prev)
		if s.training && now == s.roundEnd {
			if err := s.finishRound(now); err != nil {
				return err
			}
		}
	}
	if now >= s.end {
		if s.bridge != nil {
			if err := s.bridge.reconcile(s.runCtx); err != nil {
				return err
			}
		}
		s.window = Window{Index: s.windows, Start: now, End: now, Phase: s.phaseName, Done: true}
		return nil
	}
	nextEpoch := alignUp(now, s.base, s.epoch)
	limit := MinTime(s.roundEnd, s.end)
	w := Window{
		Index:      s.windows,
		Start:      now,
		End:        MinTime(MinTime(alignUp(now, s.base, s.decade), nextEpoch), limit),
		Decade:     s.decade,
		Epoch:      s.epoch,
		EpochBegin: s.windows == 0 || s.window.End == s.window.EpochEnd,
		EpochEnd:   MinTime(nextEpoch, limit),
		Phase:      s.phaseName,
	}
	s.window = w
	s.windows++
	if w.EpochBegin {
		s.epochs++
	}
	s.windowWall = time.Now()
	s.log.Debugf("window %d [%s, %s) phase %s epoch end %s", w.Index, w.Start, w.End, w.Phase, w.EpochEnd)
	return nil
}

// exchangeWindow is the leader action of the second barrier. At the start of
// an epoch it makes every cross-machine event sent so far visible.
func (s *Simulation) exchangeWindow() error {
	if s.bridge != nil && s.window.EpochBegin {
		return s.bridge.reconcile(s.runCtx)
	}
	return nil
}

func (s *Simulation) recordWindow(w Window) {
	wall := time.Since(s.windowWall).Seconds()
	s.windowWalls = append(s.windowWalls, wall)
	if !s.trace.Config.Windows() {
		return
	}
	s.trace.RecordWindow(trace.WindowRecord{
		Machine: s.rank, Index: w.Index, Start: w.Start.Ticks(), End: w.End.Ticks(),
		Decade: w.Decade.Ticks(), Epoch: w.Epoch.Ticks(), EpochBegin: w.EpochBegin,
		Phase: w.Phase, WallSeconds: wall,
	})
}
