// Package clearing finds and settles cycles of mutual debt per equivalent,
// reducing gross outstanding debt without changing any participant's net
// position.
package clearing

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/idhash"
	"creditnet-lab/internal/ledger"
)

const (
	// maxCyclesPerPass is a hard safety valve regardless of time budget.
	maxCyclesPerPass = 100

	// yieldEvery settled cycles the engine yields the scheduler.
	yieldEvery = 5

	// minSettleAmount is the smallest debt worth clearing. Edges below it
	// are ignored so the search cannot loop on sub-cent residue.
	minSettleAmount = 0.01
)

// GrowthApplier adjusts trust limits for edges touched by a successful
// clearing pass. Invoked on the pass's own session so growth commits
// atomically with the settlements.
type GrowthApplier interface {
	ApplyGrowth(ctx context.Context, s ledger.Session, equivalent string, cleared map[domain.DebtKey]float64, tick int64) error
}

// Options configures an Engine.
type Options struct {
	Ledger  ledger.Service
	Growth  GrowthApplier // optional
	Verbose bool
}

// Engine runs clearing passes. Each pass opens its own session, isolated
// from the tick's main transactional scope.
type Engine struct {
	ledger  ledger.Service
	growth  GrowthApplier
	verbose bool
}

func New(opts Options) *Engine {
	return &Engine{
		ledger:  opts.Ledger,
		growth:  opts.Growth,
		verbose: opts.Verbose,
	}
}

// Result aggregates one per-equivalent clearing pass.
type Result struct {
	Cycles        int
	ClearedAmount float64
	TouchedNodes  []string
	TouchedEdges  []domain.DebtKey

	// ClearedPerEdge sums the cleared amount per debt edge.
	ClearedPerEdge map[domain.DebtKey]float64

	// Deferred is set when the time budget expired before the debt graph
	// was exhausted. Not a failure; the remainder waits for the next pass.
	Deferred bool
}

// Clear settles debt cycles for one equivalent. The pass stops without
// error when the time budget runs out; any settlement failure rolls the
// whole pass back and is reported as an error.
func (e *Engine) Clear(ctx context.Context, runID string, tick int64, equivalent string, maxDepth int, timeBudget time.Duration) (*Result, error) {
	session, err := e.ledger.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open clearing session: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			session.Rollback(ctx)
		}
	}()

	rng := rand.New(rand.NewSource(int64(idhash.CycleSeed(runID, tick, equivalent))))

	var deadline time.Time
	if timeBudget > 0 {
		deadline = time.Now().Add(timeBudget)
	}

	result := &Result{ClearedPerEdge: make(map[domain.DebtKey]float64)}
	nodes := make(map[string]struct{})

	for result.Cycles < maxCyclesPerPass {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			result.Deferred = true
			break
		}

		snap, err := session.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("clearing snapshot: %w", err)
		}
		cycle := chooseCycle(findCycles(snap, equivalent, maxDepth), rng)
		if cycle == nil {
			break
		}

		amount := cycle.minAmount()
		if amount < minSettleAmount {
			break
		}
		if err := session.SettleCycle(ctx, cycle.edges(equivalent, amount)); err != nil {
			return nil, fmt.Errorf("settle cycle: %w", err)
		}

		result.Cycles++
		result.ClearedAmount += amount * float64(len(cycle.nodes))
		for i, n := range cycle.nodes {
			nodes[n] = struct{}{}
			next := cycle.nodes[(i+1)%len(cycle.nodes)]
			result.ClearedPerEdge[domain.DebtKey{Debtor: n, Creditor: next, Equivalent: equivalent}] += amount
		}

		if result.Cycles%yieldEvery == 0 {
			runtime.Gosched()
		}
	}

	result.TouchedNodes = sortedSet(nodes)
	result.TouchedEdges = sortedEdgeKeys(result.ClearedPerEdge)

	if e.growth != nil && result.Cycles > 0 {
		if err := e.growth.ApplyGrowth(ctx, session, equivalent, result.ClearedPerEdge, tick); err != nil {
			return nil, fmt.Errorf("apply growth: %w", err)
		}
	}

	if err := session.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit clearing: %w", err)
	}
	committed = true

	if e.verbose && result.Cycles > 0 {
		log.Printf("[clearing] run=%s tick=%d eq=%s cycles=%d cleared=%.2f deferred=%v",
			runID, tick, equivalent, result.Cycles, result.ClearedAmount, result.Deferred)
	}
	return result, nil
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedEdgeKeys(m map[domain.DebtKey]float64) []domain.DebtKey {
	out := make([]domain.DebtKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Debtor != out[j].Debtor {
			return out[i].Debtor < out[j].Debtor
		}
		return out[i].Creditor < out[j].Creditor
	})
	return out
}
