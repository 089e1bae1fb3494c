package orchestrator

import (
	"context"
	"sort"

	"creditnet-lab/internal/clearing"
	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/executor"
)

const (
	// bottleneckThreshold is the minimum utilization for an edge to count
	// as a bottleneck candidate.
	bottleneckThreshold = 0.5

	// topBottlenecks bounds persisted offending edges per equivalent.
	topBottlenecks = 10
)

// persistTickArtifacts writes metric rows, bottleneck snapshots and the
// patched scenario document at their configured cadences. All writes are
// best-effort: a failing store logs a warning and never fails the tick.
func (o *Orchestrator) persistTickArtifacts(ctx context.Context, rr *runtimeRun, run *domain.Run, snap *domain.DebtSnapshot, res *executor.Result, clearTotals map[string]*clearing.Result) {
	tick := run.Clock.Tick
	s := rr.settings

	if o.metricsStore != nil && s.MetricsEveryTicks > 0 && tick%int64(s.MetricsEveryTicks) == 0 {
		rows := o.buildMetricRows(rr, run, snap, res, clearTotals)
		if len(rows) > 0 {
			if err := o.metricsStore.InsertBulk(ctx, rows); err != nil {
				o.warnOnce(rr, "metrics-store", "run %s: persist metrics: %v", run.RunID, err)
			}
		}
	}

	if o.bottleneckStore != nil && s.BottleneckEveryTicks > 0 && tick%int64(s.BottleneckEveryTicks) == 0 {
		rows := o.buildBottleneckRows(rr, run, snap)
		if len(rows) > 0 {
			if err := o.bottleneckStore.InsertBulk(ctx, rows); err != nil {
				o.warnOnce(rr, "bottleneck-store", "run %s: persist bottlenecks: %v", run.RunID, err)
			}
		}
	}

	if o.scenarioStore != nil && s.ArtifactEveryTicks > 0 && tick%int64(s.ArtifactEveryTicks) == 0 {
		if err := o.scenarioStore.Save(ctx, rr.mirror.Export()); err != nil {
			o.warnOnce(rr, "scenario-store", "run %s: persist scenario: %v", run.RunID, err)
		}
	}
}

func (o *Orchestrator) buildMetricRows(rr *runtimeRun, run *domain.Run, snap *domain.DebtSnapshot, res *executor.Result, clearTotals map[string]*clearing.Result) []*domain.TickMetric {
	var rows []*domain.TickMetric
	add := func(eq, key string, value float64) {
		rows = append(rows, &domain.TickMetric{
			RunID:      run.RunID,
			Tick:       run.Clock.Tick,
			SimMs:      run.Clock.SimMs,
			Equivalent: eq,
			Key:        key,
			Value:      value,
		})
	}

	for _, eq := range rr.mirror.Equivalents() {
		var stats *executor.EquivalentStats
		if res != nil {
			stats = res.PerEquivalent[eq]
		}
		if stats == nil {
			stats = &executor.EquivalentStats{}
		}

		successRate := 0.0
		if stats.Attempts > 0 {
			successRate = float64(stats.Committed) / float64(stats.Attempts)
		}
		add(eq, domain.MetricSuccessRate, successRate)
		add(eq, domain.MetricAvgRouteLength, stats.AvgRouteLength())
		add(eq, domain.MetricTotalDebt, snap.Total(eq))
		add(eq, domain.MetricAttempts, float64(stats.Attempts))
		add(eq, domain.MetricCommitted, float64(stats.Committed))
		add(eq, domain.MetricRejected, float64(stats.Rejected))
		add(eq, domain.MetricTimeouts, float64(stats.Timeouts))

		if ct := clearTotals[eq]; ct != nil {
			add(eq, domain.MetricClearingVolume, ct.ClearedAmount)
			add(eq, domain.MetricClearedCycles, float64(ct.Cycles))
		}

		maxUtil := 0.0
		for _, e := range rr.mirror.ActiveEdges(eq) {
			if e.Limit <= 0 {
				continue
			}
			util := snap.Between(e.Debtor, e.Creditor, eq) / e.Limit
			if util > maxUtil {
				maxUtil = util
			}
		}
		add(eq, domain.MetricBottleneckScore, maxUtil)
	}
	return rows
}

func (o *Orchestrator) buildBottleneckRows(rr *runtimeRun, run *domain.Run, snap *domain.DebtSnapshot) []*domain.EdgeBottleneck {
	var rows []*domain.EdgeBottleneck
	for _, eq := range rr.mirror.Equivalents() {
		var candidates []*domain.EdgeBottleneck
		for _, e := range rr.mirror.ActiveEdges(eq) {
			if e.Limit <= 0 {
				continue
			}
			debt := snap.Between(e.Debtor, e.Creditor, eq)
			util := debt / e.Limit
			if util < bottleneckThreshold {
				continue
			}
			candidates = append(candidates, &domain.EdgeBottleneck{
				RunID:       run.RunID,
				Tick:        run.Clock.Tick,
				Equivalent:  eq,
				Creditor:    e.Creditor,
				Debtor:      e.Debtor,
				Limit:       e.Limit,
				Debt:        debt,
				Utilization: util,
			})
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Utilization > candidates[j].Utilization
		})
		if len(candidates) > topBottlenecks {
			candidates = candidates[:topBottlenecks]
		}
		rows = append(rows, candidates...)
	}
	if len(rows) > 0 {
		o.log("run %s tick %d: %d bottleneck edges", run.RunID, run.Clock.Tick, len(rows))
	}
	return rows
}
