package domain

// TrustDriftConfig controls automatic trust-limit adjustment. Parsed once
// from scenario settings; immutable for the run's lifetime.
type TrustDriftConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	GrowthRate        float64 `yaml:"growth_rate" json:"growth_rate"`               // fraction per clearing touch
	DecayRate         float64 `yaml:"decay_rate" json:"decay_rate"`                 // fraction per overloaded tick
	MaxGrowth         float64 `yaml:"max_growth" json:"max_growth"`                 // multiple of original limit
	MinLimitRatio     float64 `yaml:"min_limit_ratio" json:"min_limit_ratio"`       // floor as fraction of original limit
	OverloadThreshold float64 `yaml:"overload_threshold" json:"overload_threshold"` // debt/limit ratio triggering decay
}

// Drift defaults.
const (
	DefaultDriftGrowthRate        = 0.05
	DefaultDriftDecayRate         = 0.02
	DefaultDriftMaxGrowth         = 3.0
	DefaultDriftMinLimitRatio     = 0.5
	DefaultDriftOverloadThreshold = 0.9
)

// Normalize fills unset drift parameters with defaults.
func (c *TrustDriftConfig) Normalize() {
	if c.GrowthRate <= 0 {
		c.GrowthRate = DefaultDriftGrowthRate
	}
	if c.DecayRate <= 0 {
		c.DecayRate = DefaultDriftDecayRate
	}
	if c.MaxGrowth <= 1 {
		c.MaxGrowth = DefaultDriftMaxGrowth
	}
	if c.MinLimitRatio <= 0 || c.MinLimitRatio >= 1 {
		c.MinLimitRatio = DefaultDriftMinLimitRatio
	}
	if c.OverloadThreshold <= 0 || c.OverloadThreshold > 1 {
		c.OverloadThreshold = DefaultDriftOverloadThreshold
	}
}

// EdgeClearingHistory tracks per-edge clearing activity for trust drift.
// Created once per edge at drift initialization (or on edge creation via
// inject); never deleted while the run is active.
type EdgeClearingHistory struct {
	Edge                    EdgeKey
	OriginalLimit           float64
	ClearingCount           int64
	LastClearingTick        int64
	CumulativeClearedVolume float64
}
