// Package drift adjusts trust-edge limits based on usage: limits grow on
// edges that participate in successful clearing and decay on chronically
// overloaded edges that clearing never reaches.
package drift

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/ledger"
	"creditnet-lab/internal/scenario"
)

const limitEpsilon = 1e-9

// Engine tracks per-edge clearing history and applies limit growth and
// decay. Growth runs inside a clearing pass's session; decay runs once per
// tick on the main session. Both keep the scenario mirror in sync so
// planner reads within the same tick already see the new limits.
type Engine struct {
	mu        sync.Mutex
	cfg       domain.TrustDriftConfig
	mirror    *scenario.Mirror
	histories map[domain.EdgeKey]*domain.EdgeClearingHistory

	// lastCleared exempts edges cleared this tick from decay.
	lastCleared map[domain.EdgeKey]int64
}

// New builds the engine and seeds a clearing history for every edge the
// scenario currently has. Edges created later by injects are picked up
// lazily on first touch.
func New(cfg domain.TrustDriftConfig, mirror *scenario.Mirror) *Engine {
	cfg.Normalize()
	e := &Engine{
		cfg:         cfg,
		mirror:      mirror,
		histories:   make(map[domain.EdgeKey]*domain.EdgeClearingHistory),
		lastCleared: make(map[domain.EdgeKey]int64),
	}
	for _, edge := range mirror.AllEdges() {
		e.histories[edge.Key()] = &domain.EdgeClearingHistory{
			Edge:          edge.Key(),
			OriginalLimit: edge.Limit,
		}
	}
	return e
}

// Enabled reports whether drift is active for this run.
func (e *Engine) Enabled() bool { return e.cfg.Enabled }

// History returns a copy of the edge's clearing history, zero-valued if
// the edge was never tracked.
func (e *Engine) History(key domain.EdgeKey) domain.EdgeClearingHistory {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.histories[key]; ok {
		return *h
	}
	return domain.EdgeClearingHistory{Edge: key}
}

func (e *Engine) historyLocked(key domain.EdgeKey, currentLimit float64) *domain.EdgeClearingHistory {
	h, ok := e.histories[key]
	if !ok {
		h = &domain.EdgeClearingHistory{Edge: key, OriginalLimit: currentLimit}
		e.histories[key] = h
	}
	return h
}

// ApplyGrowth raises the limit of every edge touched by a clearing pass:
// newLimit = min(current * (1+growthRate), original * maxGrowth). Writes
// go through the clearing session so they commit atomically with the
// settlements; the mirror is updated in lock step.
func (e *Engine) ApplyGrowth(ctx context.Context, s ledger.Session, equivalent string, cleared map[domain.DebtKey]float64, tick int64) error {
	if !e.cfg.Enabled || len(cleared) == 0 {
		return nil
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("growth snapshot: %w", err)
	}

	keys := make([]domain.DebtKey, 0, len(cleared))
	for k := range cleared {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Debtor != keys[j].Debtor {
			return keys[i].Debtor < keys[j].Debtor
		}
		return keys[i].Creditor < keys[j].Creditor
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dk := range keys {
		// Debt debtor->creditor rides the trust edge the creditor extends
		// to the debtor.
		key := domain.EdgeKey{Creditor: dk.Creditor, Debtor: dk.Debtor, Equivalent: dk.Equivalent}
		edge := e.mirror.Edge(key)
		if edge == nil {
			continue
		}
		hist := e.historyLocked(key, edge.Limit)
		hist.ClearingCount++
		hist.LastClearingTick = tick
		hist.CumulativeClearedVolume += cleared[dk]
		e.lastCleared[key] = tick

		newLimit := math.Min(edge.Limit*(1+e.cfg.GrowthRate), hist.OriginalLimit*e.cfg.MaxGrowth)
		if math.Abs(newLimit-edge.Limit) <= limitEpsilon {
			continue
		}
		if err := s.SetTrustLimit(ctx, key, newLimit); err != nil {
			return fmt.Errorf("grow %s->%s: %w", key.Creditor, key.Debtor, err)
		}
		e.mirror.SetEdgeLimit(key, newLimit, snap.Between(dk.Debtor, dk.Creditor, dk.Equivalent))
	}
	return nil
}

// ApplyDecay lowers the limit of every active edge that is overloaded
// (debt/limit >= overloadThreshold) and was not cleared this tick:
// newLimit = max(current * (1-decayRate), original * minLimitRatio).
// Writes fold into the caller's session; the caller commits.
func (e *Engine) ApplyDecay(ctx context.Context, s ledger.Session, snap *domain.DebtSnapshot, tick int64) (int, error) {
	if !e.cfg.Enabled {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := 0
	for _, edge := range e.mirror.AllEdges() {
		if !edge.Active() || edge.Limit <= 0 {
			continue
		}
		key := edge.Key()
		if e.lastCleared[key] == tick {
			continue
		}
		debt := snap.Between(key.Debtor, key.Creditor, key.Equivalent)
		if debt/edge.Limit < e.cfg.OverloadThreshold {
			continue
		}
		hist := e.historyLocked(key, edge.Limit)
		newLimit := math.Max(edge.Limit*(1-e.cfg.DecayRate), hist.OriginalLimit*e.cfg.MinLimitRatio)
		if math.Abs(newLimit-edge.Limit) <= limitEpsilon {
			continue
		}
		if err := s.SetTrustLimit(ctx, key, newLimit); err != nil {
			return changed, fmt.Errorf("decay %s->%s: %w", key.Creditor, key.Debtor, err)
		}
		e.mirror.SetEdgeLimit(key, newLimit, debt)
		changed++
	}
	return changed, nil
}
