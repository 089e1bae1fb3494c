package domain

// Metric keys persisted per (run, tick, equivalent). Writes are idempotent
// by natural key.
const (
	MetricSuccessRate     = "success_rate"
	MetricAvgRouteLength  = "avg_route_length"
	MetricTotalDebt       = "total_debt"
	MetricClearingVolume  = "clearing_volume"
	MetricClearedCycles   = "cleared_cycles"
	MetricBottleneckScore = "bottleneck_score"
	MetricAttempts        = "attempts"
	MetricCommitted       = "committed"
	MetricRejected        = "rejected"
	MetricTimeouts        = "timeouts"
)

// TickMetric is one metric row: one value per metric key per equivalent per
// tick time.
type TickMetric struct {
	RunID      string
	Tick       int64
	SimMs      int64
	Equivalent string
	Key        string
	Value      float64
}

// EdgeBottleneck is a periodic snapshot row for a top offending edge:
// an edge whose utilization (debt/limit) makes it a likely routing
// bottleneck.
type EdgeBottleneck struct {
	RunID       string
	Tick        int64
	Equivalent  string
	Creditor    string
	Debtor      string
	Limit       float64
	Debt        float64
	Utilization float64 // debt / limit
}
