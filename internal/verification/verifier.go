// Package verification checks run determinism. It executes the same
// scenario twice with an identical seed, fully independently, and compares
// the per-tick payment records field by field. Any divergence means some
// part of planning or execution leaked nondeterminism.
package verification

import (
	"context"
	"fmt"
	"math"
	"strings"

	"creditnet-lab/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons. Amounts are
// quantized to cents before they reach the ledger, so replays that agree
// should agree far below this bound.
const FloatTolerance = 1e-7

// Divergence represents a mismatch between the baseline and the replay.
type Divergence struct {
	Field    string      // field name, prefixed with the intent position
	Expected interface{} // baseline value
	Actual   interface{} // replay value
}

// PaymentRecord is the deterministic trace of one planned payment: the
// intent as planned plus the outcome of applying it to the ledger.
type PaymentRecord struct {
	Sequence       int
	Sender         string
	Receiver       string
	Equivalent     string
	Amount         float64
	IdempotencyKey string
	Committed      bool
	RejectionCode  string
	Route          []string // committed payments only, sender first
}

// TickResult contains the comparison of one tick's payment batch.
type TickResult struct {
	Tick        int64
	Match       bool
	Divergences []Divergence
	Baseline    int // baseline batch size
	Replayed    int // replay batch size
}

// Report contains the results of a full determinism check.
type Report struct {
	Ticks          int
	MatchedTicks   int
	DivergentTicks int
	Results        []TickResult

	// FirstDivergentTick is -1 when the replays agree everywhere.
	FirstDivergentTick int64
}

// Match reports whether the two replays agreed on every tick.
func (r *Report) Match() bool {
	return r.DivergentTicks == 0
}

// Verifier runs determinism checks against a scenario.
type Verifier interface {
	// Verify executes two independent replays and compares them.
	Verify(ctx context.Context) (*Report, error)
}

// CompareBatches compares two per-tick payment batches and returns
// divergences. Uses FloatTolerance for float64 comparisons.
func CompareBatches(baseline, replayed []PaymentRecord) []Divergence {
	var divergences []Divergence

	if len(baseline) != len(replayed) {
		divergences = append(divergences, Divergence{
			Field:    "BatchSize",
			Expected: len(baseline),
			Actual:   len(replayed),
		})
	}

	n := len(baseline)
	if len(replayed) < n {
		n = len(replayed)
	}
	for i := 0; i < n; i++ {
		divergences = append(divergences, compareRecords(i, &baseline[i], &replayed[i])...)
	}
	return divergences
}

// compareRecords compares one payment record position field by field.
func compareRecords(pos int, baseline, replayed *PaymentRecord) []Divergence {
	var divergences []Divergence
	add := func(field string, expected, actual interface{}) {
		divergences = append(divergences, Divergence{
			Field:    recordField(pos, field),
			Expected: expected,
			Actual:   actual,
		})
	}

	if baseline.Sequence != replayed.Sequence {
		add("Sequence", baseline.Sequence, replayed.Sequence)
	}
	if baseline.Sender != replayed.Sender {
		add("Sender", baseline.Sender, replayed.Sender)
	}
	if baseline.Receiver != replayed.Receiver {
		add("Receiver", baseline.Receiver, replayed.Receiver)
	}
	if baseline.Equivalent != replayed.Equivalent {
		add("Equivalent", baseline.Equivalent, replayed.Equivalent)
	}
	if !floatEquals(baseline.Amount, replayed.Amount) {
		add("Amount", baseline.Amount, replayed.Amount)
	}

	// The key hashes run ID, tick and the full intent; a key mismatch
	// with matching intent fields points at hashing itself.
	if baseline.IdempotencyKey != replayed.IdempotencyKey {
		add("IdempotencyKey", baseline.IdempotencyKey, replayed.IdempotencyKey)
	}

	if baseline.Committed != replayed.Committed {
		add("Committed", baseline.Committed, replayed.Committed)
	}
	if baseline.RejectionCode != replayed.RejectionCode {
		add("RejectionCode", baseline.RejectionCode, replayed.RejectionCode)
	}
	if strings.Join(baseline.Route, ">") != strings.Join(replayed.Route, ">") {
		add("Route", strings.Join(baseline.Route, ">"), strings.Join(replayed.Route, ">"))
	}
	return divergences
}

func recordField(pos int, field string) string {
	return fmt.Sprintf("intent[%d].%s", pos, field)
}

// floatEquals compares two float64 values within FloatTolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}

// snapshotTotals is a compact fingerprint of ledger state, used to confirm
// the two replays end each tick with identical outstanding debt.
func snapshotTotals(snap *domain.DebtSnapshot, equivalents []string) map[string]float64 {
	totals := make(map[string]float64, len(equivalents))
	for _, eq := range equivalents {
		totals[eq] = snap.Total(eq)
	}
	return totals
}
