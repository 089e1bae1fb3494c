// Package policy implements the adaptive clearing-cadence controller.
// It watches the rolling no-capacity rejection rate and tunes how often
// clearing runs and with what budget, always staying inside the static
// configuration's envelope.
package policy

import (
	"sync"

	"creditnet-lab/internal/domain"
)

// Decision tells the orchestrator whether to clear this tick and with
// what budget.
type Decision struct {
	Clear        bool
	TimeBudgetMs int64
	MaxDepth     int
}

// Controller is the per-run feedback controller. Safe for use from the
// run's tick loop; Observe and Decide are called once per tick.
type Controller struct {
	mu  sync.Mutex
	cfg domain.AdaptiveClearingPolicyConfig

	staticEvery    int
	staticBudgetMs int64
	staticDepth    int

	window   []sample // ring of the last WindowTicks ticks
	windowAt int

	interval    int
	lastCleared int64
	pressured   bool
}

type sample struct {
	attempts   int
	noCapacity int
}

// New builds a controller around the static clearing settings.
// staticEvery/staticBudgetMs/staticDepth come from the scenario; cfg
// bounds what the controller may stretch them to.
func New(cfg domain.AdaptiveClearingPolicyConfig, staticEvery int, staticBudgetMs int64, staticDepth int) *Controller {
	if cfg.WindowTicks <= 0 {
		cfg = domain.DefaultAdaptivePolicy()
	}
	if cfg.MaxTimeBudgetMs < staticBudgetMs {
		cfg.MaxTimeBudgetMs = staticBudgetMs
	}
	if cfg.MaxDepth < staticDepth {
		cfg.MaxDepth = staticDepth
	}
	return &Controller{
		cfg:            cfg,
		staticEvery:    staticEvery,
		staticBudgetMs: staticBudgetMs,
		staticDepth:    staticDepth,
		window:         make([]sample, 0, cfg.WindowTicks),
		interval:       clampInterval(staticEvery, cfg),
		lastCleared:    -1 << 62,
	}
}

// Observe records one tick's attempt count and no-capacity rejections and
// re-evaluates the cadence.
func (c *Controller) Observe(attempts, noCapacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := sample{attempts: attempts, noCapacity: noCapacity}
	if len(c.window) < c.cfg.WindowTicks {
		c.window = append(c.window, s)
	} else {
		c.window[c.windowAt] = s
		c.windowAt = (c.windowAt + 1) % c.cfg.WindowTicks
	}

	rate := c.rateLocked()
	switch {
	case rate >= c.cfg.HighRejectionRate:
		c.interval = c.cfg.MinIntervalTicks
		c.pressured = true
	case rate <= c.cfg.LowRejectionRate:
		next := c.interval * 2
		if next > c.cfg.MaxBackoffTicks {
			next = c.cfg.MaxBackoffTicks
		}
		c.interval = next
		c.pressured = false
	default:
		c.interval = clampInterval(c.staticEvery, c.cfg)
		c.pressured = false
	}
}

// Decide reports whether a clearing pass should run at the given tick.
// The minimum interval holds regardless of pressure.
func (c *Controller) Decide(tick int64) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	since := tick - c.lastCleared
	if since < int64(c.cfg.MinIntervalTicks) || since < int64(c.interval) {
		return Decision{TimeBudgetMs: c.staticBudgetMs, MaxDepth: c.staticDepth}
	}

	d := Decision{Clear: true, TimeBudgetMs: c.staticBudgetMs, MaxDepth: c.staticDepth}
	if c.pressured {
		d.TimeBudgetMs = minInt64(c.staticBudgetMs*2, c.cfg.MaxTimeBudgetMs)
		d.MaxDepth = minInt(c.staticDepth+2, c.cfg.MaxDepth)
	}
	return d
}

// NoteCleared marks a clearing pass as started at the given tick.
func (c *Controller) NoteCleared(tick int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCleared = tick
}

// RejectionRate exposes the current windowed no-capacity rate.
func (c *Controller) RejectionRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLocked()
}

func (c *Controller) rateLocked() float64 {
	var attempts, noCapacity int
	for _, s := range c.window {
		attempts += s.attempts
		noCapacity += s.noCapacity
	}
	if attempts == 0 {
		return 0
	}
	return float64(noCapacity) / float64(attempts)
}

func clampInterval(v int, cfg domain.AdaptiveClearingPolicyConfig) int {
	if v < cfg.MinIntervalTicks {
		return cfg.MinIntervalTicks
	}
	if v > cfg.MaxBackoffTicks {
		return cfg.MaxBackoffTicks
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
