package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditnet-lab/internal/clearing"
	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/executor"
	"creditnet-lab/internal/ledger"
	"creditnet-lab/internal/observability"
)

// tick executes exactly one simulated tick for the run. Called only from
// the run's own loop, never concurrently per run.
func (o *Orchestrator) tick(ctx context.Context, rr *runtimeRun) {
	start := time.Now()

	rr.mu.Lock()
	rr.warned = make(map[string]struct{})
	rr.mu.Unlock()

	err := o.tickOnce(ctx, rr)

	rr.mu.Lock()
	result := "ok"
	if err != nil {
		result = "failed"
		rr.run.ConsecutiveFailedTicks++
		rr.run.LastError = err.Error()
		rr.run.LastErrorAtMs = rr.run.Clock.SimMs
		if rr.settings.MaxConsecutiveTickFailures > 0 &&
			rr.run.ConsecutiveFailedTicks >= rr.settings.MaxConsecutiveTickFailures {
			rr.run.State = domain.RunStateError
			rr.run.LastErrorCode = "consecutive_tick_failures"
		}
		log.Printf("[orchestrator] run %s tick %d failed (%d consecutive): %v",
			rr.run.RunID, rr.run.Clock.Tick, rr.run.ConsecutiveFailedTicks, err)
	} else if !rr.run.State.Terminal() {
		rr.run.ConsecutiveFailedTicks = 0
	}
	rr.run.Clock.Advance()
	status := rr.run.Status()
	rr.mu.Unlock()

	observability.RecordTick(result, time.Since(start).Seconds())
	o.publishStatus(rr, status)
	o.persistStatus(ctx, rr, status)
}

// tickOnce runs the tick body inside a transactional scope. When a
// clearing window is due, the scope is committed first so the clearing
// engine's own sessions never contend with a long-held write lock, and a
// fresh scope finishes the tick.
func (o *Orchestrator) tickOnce(ctx context.Context, rr *runtimeRun) error {
	session, err := o.ledger.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	// Rollback after Commit is a no-op, so this also covers the
	// commit-then-reopen path below.
	defer func() {
		if session != nil {
			_ = session.Rollback(ctx)
		}
	}()

	rr.mu.Lock()
	runCopy := *rr.run
	rr.mu.Unlock()
	tick, simMs := runCopy.Clock.Tick, runCopy.Clock.SimMs

	if !rr.seeded {
		if err := o.seedLedger(ctx, session, rr); err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
		rr.seeded = true
	}

	o.applyTimeline(ctx, session, rr, simMs)

	snap, err := session.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	rr.mu.Lock()
	rr.lastSnap = snap
	rr.mu.Unlock()

	intents := rr.planner.Plan(&runCopy, snap)

	res, execErr := rr.exec.Execute(ctx, runCopy.RunID, tick, session, intents)
	o.foldResult(rr, res)

	if execErr != nil {
		if errors.Is(execErr, executor.ErrTooManyTimeouts) {
			// Committed sub-transactions are valid; keep them, fail the run.
			if err := session.Commit(ctx); err != nil {
				return fmt.Errorf("commit after timeout abort: %w", err)
			}
			o.failRun(rr, "timeout_budget", execErr.Error())
			return nil
		}
		return execErr
	}

	rr.mu.Lock()
	totalErrors := rr.run.Counters.Errors
	rr.mu.Unlock()
	if rr.settings.MaxTotalErrors > 0 && totalErrors >= int64(rr.settings.MaxTotalErrors) {
		if err := session.Commit(ctx); err != nil {
			return fmt.Errorf("commit before error-budget stop: %w", err)
		}
		o.failRun(rr, "error_budget",
			fmt.Sprintf("total errors %d reached budget %d", totalErrors, rr.settings.MaxTotalErrors))
		return nil
	}

	clearNow, budgetMs, depth := o.clearingDecision(rr, tick, res)
	clearTotals := map[string]*clearing.Result{}
	if clearNow {
		if err := session.Commit(ctx); err != nil {
			return fmt.Errorf("commit before clearing: %w", err)
		}
		clearTotals = o.runClearing(ctx, rr, runCopy.RunID, tick, budgetMs, depth)

		session, err = o.ledger.OpenSession(ctx)
		if err != nil {
			session = nil
			return fmt.Errorf("reopen session after clearing: %w", err)
		}
	}

	// Trust decay over fresh post-clearing debts, folded into this scope.
	snap, err = session.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("post-clearing snapshot: %w", err)
	}
	if decayed, err := rr.drift.ApplyDecay(ctx, session, snap, tick); err != nil {
		o.warnOnce(rr, "decay", "run %s tick %d: decay: %v", runCopy.RunID, tick, err)
	} else if decayed > 0 {
		observability.RecordLimitAdjustment("decay", decayed)
	}

	o.persistTickArtifacts(ctx, rr, &runCopy, snap, res, clearTotals)

	if err := session.Commit(ctx); err != nil {
		return fmt.Errorf("commit tick: %w", err)
	}
	return nil
}

// seedLedger loads participants, trust edges and initial debts from the
// scenario into the ledger. Every operation is idempotent, so a retried
// first tick reseeds harmlessly.
func (o *Orchestrator) seedLedger(ctx context.Context, session ledger.Session, rr *runtimeRun) error {
	for _, p := range rr.mirror.Participants() {
		if err := session.EnsureParticipant(ctx, p.ID); err != nil {
			return fmt.Errorf("participant %s: %w", p.ID, err)
		}
	}
	for _, e := range rr.mirror.AllEdges() {
		if err := session.EnsureTrustEdge(ctx, e); err != nil {
			return fmt.Errorf("edge %s->%s: %w", e.Creditor, e.Debtor, err)
		}
	}
	for _, d := range rr.mirror.SeedDebts() {
		if err := session.SeedDebt(ctx, d); err != nil {
			return fmt.Errorf("seed debt %s->%s: %w", d.Debtor, d.Creditor, err)
		}
	}
	o.log("run %s: ledger seeded", rr.run.RunID)
	return nil
}

// applyTimeline fires all due, not-yet-fired timeline events. Each event
// is best-effort: a failing inject is logged and skipped, never failing
// the tick.
func (o *Orchestrator) applyTimeline(ctx context.Context, session ledger.Session, rr *runtimeRun, simMs int64) {
	for _, ev := range rr.mirror.Timeline() {
		if ev.Fired || ev.AtMs > simMs {
			continue
		}
		rr.mirror.FireEvent(ev)

		switch ev.Type {
		case domain.EventTypeNote:
			o.publishNote(rr, ev.Note)
		case domain.EventTypeStress:
			if ev.Stress != nil {
				o.publishNote(rr, fmt.Sprintf("stress window opened: scope=%s target=%s x%.2f",
					ev.Stress.Scope, ev.Stress.Target, ev.Stress.Multiplier))
			}
		case domain.EventTypeInject:
			if !rr.settings.InjectsEnabled {
				o.warnOnce(rr, "injects-disabled", "run %s: inject at %dms skipped (injects disabled)",
					rr.run.RunID, ev.AtMs)
				continue
			}
			if err := o.applyInject(ctx, session, rr, ev.Inject); err != nil {
				o.warnOnce(rr, "inject:"+ev.Inject.Kind, "run %s: inject %s: %v",
					rr.run.RunID, ev.Inject.Kind, err)
			}
		}
	}
}

// applyInject performs one topology mutation in both the ledger session
// and the scenario mirror. Mirror mutators invalidate the route cache and
// broadcast the minimal topology patch themselves.
func (o *Orchestrator) applyInject(ctx context.Context, session ledger.Session, rr *runtimeRun, inj *domain.InjectEvent) error {
	if inj == nil {
		return fmt.Errorf("empty inject")
	}
	switch inj.Kind {
	case domain.InjectAddParticipant:
		if inj.Participant == nil {
			return fmt.Errorf("add_participant without participant")
		}
		if err := session.EnsureParticipant(ctx, inj.Participant.ID); err != nil {
			return err
		}
		rr.mirror.AddParticipant(inj.Participant)

	case domain.InjectCreateTrustEdge:
		if inj.Edge == nil {
			return fmt.Errorf("create_trust_edge without edge")
		}
		if err := session.EnsureTrustEdge(ctx, inj.Edge); err != nil {
			return err
		}
		rr.mirror.AddEdge(inj.Edge)

	case domain.InjectFreezeParticipant:
		if inj.Participant == nil {
			return fmt.Errorf("freeze_participant without participant")
		}
		id := inj.Participant.ID
		for _, e := range rr.mirror.AllEdges() {
			if (e.Creditor == id || e.Debtor == id) && e.Active() {
				if err := session.SetEdgeStatus(ctx, e.Key(), domain.EdgeStatusFrozen); err != nil {
					return err
				}
			}
		}
		rr.mirror.FreezeParticipant(id)

	case domain.InjectDebt:
		if inj.Debt == nil {
			return fmt.Errorf("inject_debt without debt")
		}
		return session.InjectDebt(ctx, inj.Debt)

	default:
		return fmt.Errorf("unknown inject kind %q", inj.Kind)
	}
	return nil
}

// foldResult merges an executed batch into the run's counters and tracks
// the all-rejected stall streak.
func (o *Orchestrator) foldResult(rr *runtimeRun, res *executor.Result) {
	if res == nil {
		return
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	c := &rr.run.Counters
	c.Attempts += int64(res.Attempts)
	c.Committed += int64(res.Committed)
	c.Rejected += int64(res.Rejected)
	c.Errors += int64(res.Errors)
	c.Timeouts += int64(res.Timeouts)

	switch {
	case res.Committed > 0 || res.Errors > 0:
		rr.run.ConsecutiveStalledTicks = 0
	case res.Attempts > 0:
		rr.run.ConsecutiveStalledTicks++
		observability.DefaultMetrics.StalledTicks.Inc()
	}
}

// failRun transitions the run to the terminal error state.
func (o *Orchestrator) failRun(rr *runtimeRun, code, msg string) {
	rr.mu.Lock()
	rr.run.State = domain.RunStateError
	rr.run.LastError = msg
	rr.run.LastErrorCode = code
	rr.run.LastErrorAtMs = rr.run.Clock.SimMs
	status := rr.run.Status()
	rr.mu.Unlock()

	observability.DefaultMetrics.RunsTotal.WithLabelValues("error").Inc()
	log.Printf("[orchestrator] run %s failed (%s): %s", status.RunID, code, msg)
	o.publishStatus(rr, status)
}

// clearingDecision picks whether this tick opens a clearing window and
// with what budget. In adaptive mode the policy controller decides inside
// the static envelope; otherwise the static cadence applies.
func (o *Orchestrator) clearingDecision(rr *runtimeRun, tick int64, res *executor.Result) (bool, int64, int) {
	budgetMs := rr.settings.ClearingTimeBudgetMs
	depth := rr.settings.ClearingMaxDepth

	if rr.policy != nil {
		noCapacity := 0
		if res != nil {
			noCapacity = res.RejectionCodes[ledger.RejectNoCapacity]
		}
		attempts := 0
		if res != nil {
			attempts = res.Attempts
		}
		rr.policy.Observe(attempts, noCapacity)
		d := rr.policy.Decide(tick)
		if d.Clear {
			rr.policy.NoteCleared(tick)
		}
		return d.Clear, d.TimeBudgetMs, d.MaxDepth
	}

	every := rr.settings.ClearingEveryTicks
	if every <= 0 || tick == 0 || tick%int64(every) != 0 {
		return false, budgetMs, depth
	}
	return true, budgetMs, depth
}

// runClearing runs one clearing pass per equivalent under the hard
// wall-clock timeout. A pass that misses the hard timeout is cancelled
// and detached; its equivalent is skipped until the detached pass ends.
func (o *Orchestrator) runClearing(ctx context.Context, rr *runtimeRun, runID string, tick, budgetMs int64, depth int) map[string]*clearing.Result {
	totals := make(map[string]*clearing.Result)
	hard := time.Duration(rr.settings.ClearingHardTimeoutMs) * time.Millisecond
	budget := time.Duration(budgetMs) * time.Millisecond

	for _, eq := range rr.mirror.Equivalents() {
		rr.clearingMu.Lock()
		busy := rr.clearingBusy[eq]
		rr.clearingMu.Unlock()
		if busy {
			o.warnOnce(rr, "clearing-busy:"+eq,
				"run %s: clearing for %s still detached, skipping window", runID, eq)
			continue
		}

		o.publishClearing(rr, domain.EventClearingPlanned, &domain.ClearingEvent{
			Equivalent: eq,
			BudgetMs:   budgetMs,
		})

		type passResult struct {
			res *clearing.Result
			err error
		}
		done := make(chan passResult, 1)
		passCtx, cancel := context.WithCancel(ctx)
		start := time.Now()
		go func(eq string) {
			res, err := rr.clearing.Clear(passCtx, runID, tick, eq, depth, budget)
			done <- passResult{res: res, err: err}
		}(eq)

		timer := time.NewTimer(hard)
		select {
		case pr := <-done:
			timer.Stop()
			cancel()
			if pr.err != nil {
				rr.mu.Lock()
				rr.run.Counters.Errors++
				rr.mu.Unlock()
				observability.RecordClearing("error", 0, 0, time.Since(start).Seconds())
				log.Printf("[orchestrator] run %s: clearing %s: %v", runID, eq, pr.err)
				continue
			}
			totals[eq] = pr.res
			result := "ok"
			if pr.res.Deferred {
				result = "deferred"
			}
			observability.RecordClearing(result, pr.res.Cycles, pr.res.ClearedAmount, time.Since(start).Seconds())
			if len(pr.res.TouchedEdges) > 0 {
				observability.RecordLimitAdjustment("growth", len(pr.res.TouchedEdges))
			}
			o.publishClearing(rr, domain.EventClearingDone, &domain.ClearingEvent{
				Equivalent:    eq,
				Cycles:        pr.res.Cycles,
				ClearedAmount: pr.res.ClearedAmount,
				TouchedNodes:  pr.res.TouchedNodes,
				TouchedEdges:  len(pr.res.TouchedEdges),
				BudgetMs:      budgetMs,
				Deferred:      pr.res.Deferred,
			})

		case <-timer.C:
			// Cancel and detach: the pass keeps running but nothing waits
			// on it, and no new pass starts for this equivalent meanwhile.
			cancel()
			rr.clearingMu.Lock()
			rr.clearingBusy[eq] = true
			rr.clearingMu.Unlock()
			log.Printf("[orchestrator] run %s: clearing %s exceeded hard timeout %s, detaching",
				runID, eq, hard)
			observability.RecordClearing("detached", 0, 0, time.Since(start).Seconds())
			go func(eq string) {
				pr := <-done
				rr.clearingMu.Lock()
				rr.clearingBusy[eq] = false
				rr.clearingMu.Unlock()
				if pr.err != nil && !errors.Is(pr.err, context.Canceled) {
					log.Printf("[orchestrator] run %s: detached clearing %s ended: %v", runID, eq, pr.err)
				}
			}(eq)
		}
	}
	return totals
}
