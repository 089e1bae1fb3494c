package verification

import (
	"context"
	"fmt"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/idhash"
	"creditnet-lab/internal/ledger"
	ledgermem "creditnet-lab/internal/ledger/memory"
	"creditnet-lab/internal/planner"
	"creditnet-lab/internal/scenario"
)

// verifyRunID is the run ID used by both replays. It must be identical so
// that idempotency keys are comparable across them.
const verifyRunID = "determinism-check"

// ReplayVerifier replays a scenario twice against independent in-memory
// ledgers and compares the traces. Payments are applied sequentially in
// plan order, so the trace is a function of the seed alone.
type ReplayVerifier struct {
	sc        *domain.Scenario
	seed      uint64
	intensity int // percent, 0..100
	ticks     int
}

// NewReplayVerifier creates a verifier for the given scenario. The
// scenario document is copied per replay and never mutated.
func NewReplayVerifier(sc *domain.Scenario, seed uint64, intensity, ticks int) *ReplayVerifier {
	return &ReplayVerifier{sc: sc, seed: seed, intensity: intensity, ticks: ticks}
}

// tickTrace is everything one replay records about one tick.
type tickTrace struct {
	records []PaymentRecord
	totals  map[string]float64 // outstanding debt per equivalent after the tick
}

// Verify implements Verifier.
func (v *ReplayVerifier) Verify(ctx context.Context) (*Report, error) {
	baseline, err := v.replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("baseline replay: %w", err)
	}
	replayed, err := v.replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("second replay: %w", err)
	}

	report := &Report{
		Ticks:              v.ticks,
		FirstDivergentTick: -1,
		Results:            make([]TickResult, 0, v.ticks),
	}
	for t := 0; t < v.ticks; t++ {
		divergences := CompareBatches(baseline[t].records, replayed[t].records)
		divergences = append(divergences, compareTotals(baseline[t].totals, replayed[t].totals)...)

		result := TickResult{
			Tick:        int64(t),
			Match:       len(divergences) == 0,
			Divergences: divergences,
			Baseline:    len(baseline[t].records),
			Replayed:    len(replayed[t].records),
		}
		if result.Match {
			report.MatchedTicks++
		} else {
			report.DivergentTicks++
			if report.FirstDivergentTick < 0 {
				report.FirstDivergentTick = result.Tick
			}
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

// replay executes one full deterministic pass: seed the ledger from the
// scenario, then plan and apply every tick's batch in sequence order.
func (v *ReplayVerifier) replay(ctx context.Context) ([]tickTrace, error) {
	doc := scenario.NewMirror(v.sc, nil).Export()
	mirror := scenario.NewMirror(doc, nil)
	settings := mirror.Settings()

	lgr := ledgermem.New()
	if err := v.seedLedger(ctx, lgr, mirror); err != nil {
		return nil, err
	}

	run := &domain.Run{
		RunID:      verifyRunID,
		ScenarioID: mirror.ScenarioID(),
		Mode:       "static",
		State:      domain.RunStateRunning,
		Seed:       v.seed,
		Intensity:  v.intensity,
		Clock:      domain.RunClock{Step: settings.TickStepMs},
	}
	pl := planner.New(mirror)
	equivalents := mirror.Equivalents()

	traces := make([]tickTrace, 0, v.ticks)
	for t := 0; t < v.ticks; t++ {
		trace, err := v.replayTick(ctx, lgr, pl, run, equivalents)
		if err != nil {
			return nil, fmt.Errorf("tick %d: %w", t, err)
		}
		traces = append(traces, trace)
		run.Clock.Advance()
	}
	return traces, nil
}

func (v *ReplayVerifier) replayTick(
	ctx context.Context,
	lgr ledger.Service,
	pl *planner.Planner,
	run *domain.Run,
	equivalents []string,
) (tickTrace, error) {
	session, err := lgr.OpenSession(ctx)
	if err != nil {
		return tickTrace{}, fmt.Errorf("open session: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			session.Rollback(context.Background())
		}
	}()

	snap, err := session.Snapshot(ctx)
	if err != nil {
		return tickTrace{}, fmt.Errorf("snapshot: %w", err)
	}
	intents := pl.Plan(run, snap)

	records := make([]PaymentRecord, 0, len(intents))
	for _, intent := range intents {
		rec, err := applyIntent(ctx, session, run, intent)
		if err != nil {
			return tickTrace{}, err
		}
		records = append(records, rec)
	}

	endSnap, err := session.Snapshot(ctx)
	if err != nil {
		return tickTrace{}, fmt.Errorf("end snapshot: %w", err)
	}
	if err := session.Commit(ctx); err != nil {
		return tickTrace{}, fmt.Errorf("commit: %w", err)
	}
	committed = true

	return tickTrace{
		records: records,
		totals:  snapshotTotals(endSnap, equivalents),
	}, nil
}

// applyIntent executes one intent in its own sub-transaction, mirroring
// the production execution path minus concurrency.
func applyIntent(
	ctx context.Context,
	session ledger.Session,
	run *domain.Run,
	intent *domain.PaymentIntent,
) (PaymentRecord, error) {
	rec := PaymentRecord{
		Sequence:   intent.Sequence,
		Sender:     intent.Sender,
		Receiver:   intent.Receiver,
		Equivalent: intent.Equivalent,
		Amount:     intent.Amount,
		IdempotencyKey: idhash.ComputeIdempotencyKey(
			run.RunID, run.Clock.Tick,
			intent.Sender, intent.Receiver, intent.Equivalent,
			intent.Amount, intent.Sequence,
		),
	}
	err := session.Sub(ctx, func(s ledger.Session) error {
		res, err := s.AttemptPayment(ctx, ledger.PaymentRequest{
			Sender:         intent.Sender,
			Receiver:       intent.Receiver,
			Equivalent:     intent.Equivalent,
			Amount:         intent.Amount,
			IdempotencyKey: rec.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		rec.Committed = true
		rec.Route = res.Route
		return nil
	})
	if err != nil {
		if code := ledger.RejectionCode(err); code != "" {
			rec.RejectionCode = code
			return rec, nil
		}
		return rec, fmt.Errorf("intent %d: %w", intent.Sequence, err)
	}
	return rec, nil
}

// seed loads participants, trust edges and initial debts in one committed
// session, exactly as the first tick of a run does.
func (v *ReplayVerifier) seedLedger(ctx context.Context, lgr ledger.Service, mirror *scenario.Mirror) error {
	session, err := lgr.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("open seed session: %w", err)
	}
	for _, p := range mirror.Participants() {
		if err := session.EnsureParticipant(ctx, p.ID); err != nil {
			session.Rollback(ctx)
			return fmt.Errorf("participant %s: %w", p.ID, err)
		}
	}
	for _, e := range mirror.AllEdges() {
		if err := session.EnsureTrustEdge(ctx, e); err != nil {
			session.Rollback(ctx)
			return fmt.Errorf("edge %s>%s: %w", e.Debtor, e.Creditor, err)
		}
	}
	for _, d := range mirror.SeedDebts() {
		if err := session.SeedDebt(ctx, d); err != nil {
			session.Rollback(ctx)
			return fmt.Errorf("seed debt %s>%s: %w", d.Debtor, d.Creditor, err)
		}
	}
	if err := session.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

// compareTotals checks the end-of-tick outstanding debt fingerprints.
func compareTotals(baseline, replayed map[string]float64) []Divergence {
	var divergences []Divergence
	for eq, want := range baseline {
		if !floatEquals(want, replayed[eq]) {
			divergences = append(divergences, Divergence{
				Field:    "TotalDebt." + eq,
				Expected: want,
				Actual:   replayed[eq],
			})
		}
	}
	return divergences
}
