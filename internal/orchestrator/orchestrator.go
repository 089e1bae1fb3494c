// Package orchestrator owns the lifecycle of simulation runs. Each run is
// driven by its own tick loop: one timer per run serializes ticks, payment
// execution fans out inside the tick, and clearing runs as a separate task
// per invocation.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditnet-lab/internal/clearing"
	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/drift"
	"creditnet-lab/internal/events"
	"creditnet-lab/internal/executor"
	"creditnet-lab/internal/ledger"
	"creditnet-lab/internal/observability"
	"creditnet-lab/internal/planner"
	"creditnet-lab/internal/policy"
	"creditnet-lab/internal/scenario"
	"creditnet-lab/internal/storage"
)

// Run modes.
const (
	ModeStatic   = "static"
	ModeAdaptive = "adaptive"
)

// ErrRunNotFound is returned for lifecycle calls on unknown run IDs.
var ErrRunNotFound = fmt.Errorf("run not found")

// ErrRunTerminal is returned for lifecycle calls on stopped/errored runs.
var ErrRunTerminal = fmt.Errorf("run is in a terminal state")

// Options for creating an Orchestrator.
type Options struct {
	// Required
	Ledger ledger.Service
	Hub    *events.Hub

	// Persistence; any of these may be nil, in which case the concern is
	// skipped (useful in tests).
	RunStore         storage.RunStore
	ScenarioStore    storage.ScenarioStore
	TickMetricsStore storage.TickMetricsStore
	BottleneckStore  storage.BottleneckStore

	// TickInterval is the wall-clock cadence of the tick loop.
	TickInterval time.Duration

	Verbose bool
}

// Orchestrator coordinates all live runs.
type Orchestrator struct {
	ledger          ledger.Service
	hub             *events.Hub
	runStore        storage.RunStore
	scenarioStore   storage.ScenarioStore
	metricsStore    storage.TickMetricsStore
	bottleneckStore storage.BottleneckStore
	tickInterval    time.Duration
	verbose         bool

	mu   sync.RWMutex
	runs map[string]*runtimeRun
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Orchestrator{
		ledger:          opts.Ledger,
		hub:             opts.Hub,
		runStore:        opts.RunStore,
		scenarioStore:   opts.ScenarioStore,
		metricsStore:    opts.TickMetricsStore,
		bottleneckStore: opts.BottleneckStore,
		tickInterval:    opts.TickInterval,
		verbose:         opts.Verbose,
		runs:            make(map[string]*runtimeRun),
	}
}

// runtimeRun bundles a run's state with the components driving it. State
// fields of run are guarded by mu; the gate serializes ledger calls made
// by concurrent payment tasks within a tick.
type runtimeRun struct {
	mu  sync.Mutex
	run *domain.Run

	mirror   *scenario.Mirror
	settings domain.ScenarioSettings
	planner  *planner.Planner
	exec     *executor.Executor
	gate     sync.Mutex
	drift    *drift.Engine
	clearing *clearing.Engine
	policy   *policy.Controller // nil in static mode

	seeded bool

	// lastSnap is the snapshot taken for the current tick's planning,
	// reused for best-effort visualization patches.
	lastSnap *domain.DebtSnapshot

	// session-scoped clearing bookkeeping: a detached pass blocks new
	// passes for its equivalent until it finishes.
	clearingMu   sync.Mutex
	clearingBusy map[string]bool

	// warned dedups warning logs within one tick.
	warned map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// RunConfig parameterizes a new run.
type RunConfig struct {
	Seed      uint64
	Intensity int    // percent, 0..100; 0 defaults to 100
	Mode      string // ModeStatic (default) or ModeAdaptive
	Policy    *domain.AdaptiveClearingPolicyConfig
}

// CreateRun starts a new run over the given scenario document. The run
// begins ticking immediately. The orchestrator takes ownership of the
// document; the caller must not mutate it afterwards.
func (o *Orchestrator) CreateRun(ctx context.Context, sc *domain.Scenario, cfg RunConfig) (domain.RunStatus, error) {
	sc.Settings.Normalize()
	sc.Settings.Drift.Normalize()

	if cfg.Intensity <= 0 {
		cfg.Intensity = 100
	} else if cfg.Intensity > 100 {
		cfg.Intensity = 100
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeStatic
	}
	if mode != ModeStatic && mode != ModeAdaptive {
		return domain.RunStatus{}, fmt.Errorf("unknown run mode %q", mode)
	}

	run := &domain.Run{
		RunID:      uuid.NewString(),
		ScenarioID: sc.ScenarioID,
		Mode:       mode,
		State:      domain.RunStateRunning,
		Clock:      domain.RunClock{Step: sc.Settings.TickStepMs},
		Seed:       cfg.Seed,
		Intensity:  cfg.Intensity,
	}

	rr := &runtimeRun{
		run:          run,
		settings:     sc.Settings,
		clearingBusy: make(map[string]bool),
		warned:       make(map[string]struct{}),
	}
	rr.mirror = scenario.NewMirror(sc, func(patch *domain.TopologyPatch) {
		o.publishTopology(rr, patch)
	})
	rr.planner = planner.New(rr.mirror)
	rr.drift = drift.New(sc.Settings.Drift, rr.mirror)
	rr.clearing = clearing.New(clearing.Options{
		Ledger:  o.ledger,
		Growth:  rr.drift,
		Verbose: o.verbose,
	})
	if mode == ModeAdaptive || sc.Settings.AdaptiveClearing {
		pcfg := domain.DefaultAdaptivePolicy()
		if cfg.Policy != nil {
			pcfg = *cfg.Policy
		}
		rr.policy = policy.New(pcfg,
			sc.Settings.ClearingEveryTicks,
			sc.Settings.ClearingTimeBudgetMs,
			sc.Settings.ClearingMaxDepth)
	}
	rr.exec = executor.New(executor.Options{
		MaxInFlight: sc.Settings.MaxInFlight,
		MaxTimeouts: sc.Settings.MaxTimeoutsPerTick,
		Emit: func(ev *domain.PaymentEvent, committed bool) {
			o.publishPayment(rr, ev, committed)
		},
		Patch:  rr.buildPatch,
		Lookup: rr.mirror.Participant,
	}, &rr.gate)

	o.mu.Lock()
	o.runs[run.RunID] = rr
	o.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	rr.cancel = cancel
	rr.done = make(chan struct{})
	go o.loop(loopCtx, rr)

	observability.DefaultMetrics.ActiveRuns.Inc()
	observability.DefaultMetrics.RunsTotal.WithLabelValues("created").Inc()
	o.log("run %s created (scenario=%s mode=%s seed=%d intensity=%d)",
		run.RunID, run.ScenarioID, mode, cfg.Seed, cfg.Intensity)

	status := run.Status()
	o.persistStatus(ctx, rr, status)
	return status, nil
}

// loop drives one run's ticks on a fixed wall-clock cadence until the run
// reaches a terminal state or the loop context is cancelled.
func (o *Orchestrator) loop(ctx context.Context, rr *runtimeRun) {
	defer close(rr.done)
	defer observability.DefaultMetrics.ActiveRuns.Dec()
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rr.mu.Lock()
		state := rr.run.State
		rr.mu.Unlock()

		switch state {
		case domain.RunStateRunning:
			o.tick(ctx, rr)
		case domain.RunStatePaused:
			continue
		default:
			return
		}

		rr.mu.Lock()
		terminal := rr.run.State.Terminal()
		rr.mu.Unlock()
		if terminal {
			return
		}
	}
}

func (o *Orchestrator) get(runID string) (*runtimeRun, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rr, ok := o.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return rr, nil
}

// Pause suspends ticking. The run stays resumable.
func (o *Orchestrator) Pause(ctx context.Context, runID string) error {
	return o.transition(ctx, runID, domain.RunStateRunning, domain.RunStatePaused)
}

// Resume continues a paused run.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	return o.transition(ctx, runID, domain.RunStatePaused, domain.RunStateRunning)
}

func (o *Orchestrator) transition(ctx context.Context, runID string, from, to domain.RunState) error {
	rr, err := o.get(runID)
	if err != nil {
		return err
	}
	rr.mu.Lock()
	if rr.run.State.Terminal() {
		rr.mu.Unlock()
		return ErrRunTerminal
	}
	if rr.run.State != from {
		cur := rr.run.State
		rr.mu.Unlock()
		return fmt.Errorf("run %s is %s, not %s", runID, cur, from)
	}
	rr.run.State = to
	status := rr.run.Status()
	rr.mu.Unlock()

	o.publishStatus(rr, status)
	o.persistStatus(ctx, rr, status)
	o.log("run %s: %s -> %s", runID, from, to)
	return nil
}

// Stop terminates the run: the tick loop is cancelled, in-flight work is
// awaited, and the run transitions to stopped.
func (o *Orchestrator) Stop(ctx context.Context, runID string) error {
	rr, err := o.get(runID)
	if err != nil {
		return err
	}
	rr.mu.Lock()
	if rr.run.State.Terminal() {
		rr.mu.Unlock()
		return ErrRunTerminal
	}
	rr.run.State = domain.RunStateStopping
	rr.mu.Unlock()

	rr.cancel()
	select {
	case <-rr.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	rr.mu.Lock()
	if !rr.run.State.Terminal() {
		rr.run.State = domain.RunStateStopped
	}
	status := rr.run.Status()
	rr.mu.Unlock()

	observability.DefaultMetrics.RunsTotal.WithLabelValues(string(status.State)).Inc()
	o.publishStatus(rr, status)
	o.persistStatus(ctx, rr, status)
	// The final status above is still delivered to subscribers already
	// attached; dropping the stream then closes them and frees the
	// replay buffer.
	o.hub.DropRun(runID)
	o.log("run %s stopped at tick %d", runID, status.Tick)
	return nil
}

// Status returns the run's current observable state.
func (o *Orchestrator) Status(runID string) (domain.RunStatus, error) {
	rr, err := o.get(runID)
	if err != nil {
		return domain.RunStatus{}, err
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.run.Status(), nil
}

// List returns the status of every known run.
func (o *Orchestrator) List() []domain.RunStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.RunStatus, 0, len(o.runs))
	for _, rr := range o.runs {
		rr.mu.Lock()
		out = append(out, rr.run.Status())
		rr.mu.Unlock()
	}
	return out
}

// Shutdown stops every non-terminal run.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.RLock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	o.mu.RUnlock()
	for _, id := range ids {
		if err := o.Stop(ctx, id); err != nil && err != ErrRunTerminal {
			o.log("shutdown: stop %s: %v", id, err)
		}
	}
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[orchestrator] "+format, args...)
	}
}

func (o *Orchestrator) warnOnce(rr *runtimeRun, key, format string, args ...interface{}) {
	rr.mu.Lock()
	if _, seen := rr.warned[key]; seen {
		rr.mu.Unlock()
		return
	}
	rr.warned[key] = struct{}{}
	rr.mu.Unlock()
	log.Printf("[orchestrator] WARN "+format, args...)
}
