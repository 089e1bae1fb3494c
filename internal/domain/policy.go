package domain

// AdaptiveClearingPolicyConfig parameterizes the feedback controller that
// tunes clearing cadence within the static configuration's safe envelope.
// Immutable; process-wide default unless overridden per scenario.
type AdaptiveClearingPolicyConfig struct {
	WindowTicks       int     `yaml:"window_ticks" json:"window_ticks"`
	HighRejectionRate float64 `yaml:"high_rejection_rate" json:"high_rejection_rate"`
	LowRejectionRate  float64 `yaml:"low_rejection_rate" json:"low_rejection_rate"`

	// Cadence bounds in ticks. MinInterval is always enforced.
	MinIntervalTicks int `yaml:"min_interval_ticks" json:"min_interval_ticks"`
	MaxBackoffTicks  int `yaml:"max_backoff_ticks" json:"max_backoff_ticks"`

	// Ceilings the controller may raise budget/depth to under pressure.
	// Both are hard bounds inherited from the static configuration.
	MaxTimeBudgetMs int64 `yaml:"max_time_budget_ms" json:"max_time_budget_ms"`
	MaxDepth        int   `yaml:"max_depth" json:"max_depth"`
}

// DefaultAdaptivePolicy returns the process-wide controller defaults.
func DefaultAdaptivePolicy() AdaptiveClearingPolicyConfig {
	return AdaptiveClearingPolicyConfig{
		WindowTicks:       20,
		HighRejectionRate: 0.25,
		LowRejectionRate:  0.05,
		MinIntervalTicks:  2,
		MaxBackoffTicks:   40,
		MaxTimeBudgetMs:   5000,
		MaxDepth:          7,
	}
}
