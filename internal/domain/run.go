package domain

// RunState is the lifecycle state of a simulation run.
type RunState string

// Run lifecycle constants. Stopped and Error are terminal.
const (
	RunStateRunning  RunState = "running"
	RunStatePaused   RunState = "paused"
	RunStateStopping RunState = "stopping"
	RunStateStopped  RunState = "stopped"
	RunStateError    RunState = "error"
)

// Terminal reports whether the state accepts no further ticks or mutation.
func (s RunState) Terminal() bool {
	return s == RunStateStopped || s == RunStateError
}

// RunCounters holds cumulative payment outcome counts for a run.
// Mutated only by the orchestrator while holding the run lock.
type RunCounters struct {
	Attempts  int64 `json:"attempts"`
	Committed int64 `json:"committed"`
	Rejected  int64 `json:"rejected"`
	Errors    int64 `json:"errors"`
	Timeouts  int64 `json:"timeouts"`
}

// RunClock is the simulated clock of a run. Each tick advances SimMs by a
// fixed step regardless of wall-clock jitter.
type RunClock struct {
	Tick  int64 // 0-based tick index
	SimMs int64 // simulated milliseconds since run start
	Step  int64 // simulated milliseconds per tick
}

// Advance moves the clock forward by one tick.
func (c *RunClock) Advance() {
	c.Tick++
	c.SimMs += c.Step
}

// Run is a live simulation instance. Owned exclusively by the orchestrator;
// state fields are mutated only under the run's lock.
type Run struct {
	RunID      string
	ScenarioID string
	Mode       string // "static" | "adaptive"
	State      RunState
	Clock      RunClock
	Seed       uint64
	Intensity  int // percent, 0..100
	Counters   RunCounters

	// LastError carries the most recent error surfaced to observers.
	LastError     string
	LastErrorCode string
	LastErrorAtMs int64

	// ConsecutiveFailedTicks counts tick-level failures in a row; reset on
	// the first fully successful tick.
	ConsecutiveFailedTicks int

	// ConsecutiveStalledTicks counts ticks with nonzero attempts, zero
	// commits and zero errors; reset on any commit or error.
	ConsecutiveStalledTicks int
}

// RunStatus is the externally visible summary of a run, persisted on every
// status change and broadcast to observers.
type RunStatus struct {
	RunID      string      `json:"run_id"`
	ScenarioID string      `json:"scenario_id"`
	State      RunState    `json:"state"`
	Tick       int64       `json:"tick"`
	SimMs      int64       `json:"sim_ms"`
	Counters   RunCounters `json:"counters"`
	LastError  string      `json:"last_error,omitempty"`
	Stalled    int         `json:"stalled,omitempty"`
}

// Status produces the observable summary of the run.
func (r *Run) Status() RunStatus {
	return RunStatus{
		RunID:      r.RunID,
		ScenarioID: r.ScenarioID,
		State:      r.State,
		Tick:       r.Clock.Tick,
		SimMs:      r.Clock.SimMs,
		Counters:   r.Counters,
		LastError:  r.LastError,
		Stalled:    r.ConsecutiveStalledTicks,
	}
}
