package domain

// ScenarioSettings holds per-run configuration parsed once with the
// scenario. Zero values fall back to the defaults below via Normalize.
type ScenarioSettings struct {
	// Pacing
	TickStepMs        int64 `yaml:"tick_step_ms" json:"tick_step_ms"`
	ActionsPerTickMax int   `yaml:"actions_per_tick_max" json:"actions_per_tick_max"`

	// Warm-up ramp: effective intensity = floor + (1-floor)*min(1, tick/warmup).
	WarmupTicks     int     `yaml:"warmup_ticks" json:"warmup_ticks"`
	WarmupRampFloor float64 `yaml:"warmup_ramp_floor" json:"warmup_ramp_floor"`

	// Planner
	ReciprocityBonus float64 `yaml:"reciprocity_bonus" json:"reciprocity_bonus"` // limit multiplier when reverse debt exists
	GlobalAmountCap  float64 `yaml:"global_amount_cap" json:"global_amount_cap"` // 0 disables

	// Execution
	MaxInFlight                int `yaml:"max_in_flight" json:"max_in_flight"`
	MaxTimeoutsPerTick         int `yaml:"max_timeouts_per_tick" json:"max_timeouts_per_tick"`
	MaxTotalErrors             int `yaml:"max_total_errors" json:"max_total_errors"`
	MaxConsecutiveTickFailures int `yaml:"max_consecutive_tick_failures" json:"max_consecutive_tick_failures"`

	// Clearing
	ClearingEveryTicks    int   `yaml:"clearing_every_ticks" json:"clearing_every_ticks"`
	ClearingMaxDepth      int   `yaml:"clearing_max_depth" json:"clearing_max_depth"`
	ClearingTimeBudgetMs  int64 `yaml:"clearing_time_budget_ms" json:"clearing_time_budget_ms"`
	ClearingHardTimeoutMs int64 `yaml:"clearing_hard_timeout_ms" json:"clearing_hard_timeout_ms"`
	AdaptiveClearing      bool  `yaml:"adaptive_clearing" json:"adaptive_clearing"`

	// Trust drift
	Drift TrustDriftConfig `yaml:"trust_drift" json:"trust_drift"`

	// Injects
	InjectsEnabled bool `yaml:"injects_enabled" json:"injects_enabled"`

	// Persistence throttling (ticks between writes; 0 means defaults).
	MetricsEveryTicks    int `yaml:"metrics_every_ticks" json:"metrics_every_ticks"`
	BottleneckEveryTicks int `yaml:"bottleneck_every_ticks" json:"bottleneck_every_ticks"`
	ArtifactEveryTicks   int `yaml:"artifact_every_ticks" json:"artifact_every_ticks"`
}

// Settings defaults.
const (
	DefaultTickStepMs           = 1000
	DefaultActionsPerTickMax    = 20
	DefaultWarmupRampFloor      = 0.1
	DefaultMaxInFlight          = 8
	DefaultMaxTimeoutsPerTick   = 10
	DefaultMaxTotalErrors       = 100
	DefaultMaxConsecutiveFails  = 5
	DefaultClearingEveryTicks   = 10
	DefaultClearingMaxDepth     = 5
	DefaultClearingTimeBudgetMs = 2000
	DefaultClearingHardTimeoutMs = 5000
	DefaultMetricsEveryTicks    = 1
	DefaultBottleneckEveryTicks = 10
	DefaultArtifactEveryTicks   = 10
)

// Normalize fills unset fields with defaults. Called once at scenario load.
func (s *ScenarioSettings) Normalize() {
	if s.TickStepMs <= 0 {
		s.TickStepMs = DefaultTickStepMs
	}
	if s.ActionsPerTickMax <= 0 {
		s.ActionsPerTickMax = DefaultActionsPerTickMax
	}
	if s.WarmupRampFloor <= 0 {
		s.WarmupRampFloor = DefaultWarmupRampFloor
	}
	if s.MaxInFlight <= 0 {
		s.MaxInFlight = DefaultMaxInFlight
	}
	if s.MaxTimeoutsPerTick <= 0 {
		s.MaxTimeoutsPerTick = DefaultMaxTimeoutsPerTick
	}
	if s.MaxTotalErrors <= 0 {
		s.MaxTotalErrors = DefaultMaxTotalErrors
	}
	if s.MaxConsecutiveTickFailures <= 0 {
		s.MaxConsecutiveTickFailures = DefaultMaxConsecutiveFails
	}
	if s.ClearingEveryTicks <= 0 {
		s.ClearingEveryTicks = DefaultClearingEveryTicks
	}
	if s.ClearingMaxDepth <= 0 {
		s.ClearingMaxDepth = DefaultClearingMaxDepth
	}
	if s.ClearingTimeBudgetMs <= 0 {
		s.ClearingTimeBudgetMs = DefaultClearingTimeBudgetMs
	}
	if s.ClearingHardTimeoutMs <= 0 {
		s.ClearingHardTimeoutMs = DefaultClearingHardTimeoutMs
	}
	if s.MetricsEveryTicks <= 0 {
		s.MetricsEveryTicks = DefaultMetricsEveryTicks
	}
	if s.BottleneckEveryTicks <= 0 {
		s.BottleneckEveryTicks = DefaultBottleneckEveryTicks
	}
	if s.ArtifactEveryTicks <= 0 {
		s.ArtifactEveryTicks = DefaultArtifactEveryTicks
	}
	s.Drift.Normalize()
}
