// Package planner deterministically selects the payments to attempt in one
// tick. Plan is a pure function of (run seed, tick index, scenario mirror,
// debt snapshot, intensity): no wall clock, no global RNG. For a fixed tick
// the plan at a lower intensity is a strict prefix of the plan at a higher
// one, because candidate iteration and every derived roll depend only on
// the iteration position, never on how many intents were already accepted.
package planner

import (
	"math/rand"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/idhash"
	"creditnet-lab/internal/scenario"
)

// iterationCapFactor bounds the candidate loop at 50 × targetCount.
const iterationCapFactor = 50

// candidate is one potential payment: the debtor side of an active trust
// edge, inverted to payment direction.
type candidate struct {
	Sender     string // debtor
	Receiver   string // direct creditor
	Equivalent string
}

// Planner plans payment batches against a scenario mirror.
type Planner struct {
	mirror *scenario.Mirror
}

// New creates a planner for the run's scenario mirror.
func New(mirror *scenario.Mirror) *Planner {
	return &Planner{mirror: mirror}
}

// Plan produces the ordered intent batch for the run's current tick.
func (p *Planner) Plan(run *domain.Run, snap *domain.DebtSnapshot) []*domain.PaymentIntent {
	settings := p.mirror.Settings()

	intensity := effectiveIntensity(run, settings)
	if intensity <= 0 {
		return nil
	}
	targetCount := int(float64(settings.ActionsPerTickMax) * intensity)
	if targetCount < 1 {
		targetCount = 1
	}

	tickSeed := idhash.TickSeed(run.Seed, run.Clock.Tick)
	candidates := p.shuffledCandidates(tickSeed)
	if len(candidates) == 0 {
		return nil
	}

	var intents []*domain.PaymentIntent
	iterationCap := iterationCapFactor * targetCount
	for it := 0; it < iterationCap && len(intents) < targetCount; it++ {
		cand := candidates[it%len(candidates)]
		intent := p.tryCandidate(run, snap, settings, tickSeed, it, cand)
		if intent == nil {
			continue
		}
		intent.Sequence = len(intents)
		intents = append(intents, intent)
	}
	return intents
}

// tryCandidate evaluates one candidate at one iteration position. Returns
// nil when the candidate is rejected or its data is malformed; malformed
// scenario data is always recovered locally by skipping.
func (p *Planner) tryCandidate(
	run *domain.Run,
	snap *domain.DebtSnapshot,
	settings domain.ScenarioSettings,
	tickSeed uint64,
	it int,
	cand candidate,
) *domain.PaymentIntent {
	sender := p.mirror.Participant(cand.Sender)
	if sender == nil || sender.Frozen {
		return nil
	}
	profile := p.mirror.Profile(sender.Profile)
	if profile == nil || profile.TxRate <= 0 {
		return nil
	}

	// Acceptance: tx_rate × active stress multipliers × equivalent weight.
	prob := profile.TxRate * p.mirror.StressMultiplier(sender, run.Clock.SimMs)
	if w, ok := profile.EquivalentWeights[cand.Equivalent]; ok {
		prob *= w
	}
	prob = clamp01(prob)
	acceptRng := rngFor(tickSeed, "accept", it)
	if acceptRng.Float64() >= prob {
		return nil
	}

	receiver := p.chooseReceiver(tickSeed, it, cand, profile)
	if receiver == "" || receiver == cand.Sender {
		return nil
	}

	usable := p.usableLimit(cand.Sender, receiver, cand.Equivalent, snap, settings)
	if usable <= 0 {
		return nil
	}

	amount := sampleAmount(rngFor(tickSeed, "amount", it), profile.Amounts, usable, settings.GlobalAmountCap)
	if amount <= 0 {
		return nil
	}

	// Periodicity: amounts far above the profile's typical P50 get rarer.
	if profile.Periodicity != 0 && profile.Periodicity != 1 && profile.Amounts.P50 > 0 {
		keep := periodicityProbability(amount, profile.Amounts.P50, profile.Periodicity)
		if rngFor(tickSeed, "periodicity", it).Float64() >= keep {
			return nil
		}
	}

	return &domain.PaymentIntent{
		Equivalent: cand.Equivalent,
		Sender:     cand.Sender,
		Receiver:   receiver,
		Amount:     amount,
	}
}

// shuffledCandidates builds the candidate list from active trust edges
// across all equivalents and shuffles it with the tick seed.
func (p *Planner) shuffledCandidates(tickSeed uint64) []candidate {
	var candidates []candidate
	for _, eq := range p.mirror.Equivalents() {
		for _, e := range p.mirror.ActiveEdges(eq) {
			candidates = append(candidates, candidate{
				Sender:     e.Debtor,
				Receiver:   e.Creditor,
				Equivalent: eq,
			})
		}
	}
	rng := rand.New(rand.NewSource(int64(tickSeed)))
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates
}

// usableLimit computes the capacity-aware amount ceiling for a payment:
// the minimum of the sender's best outgoing, the receiver's best incoming
// and the direct edge limit, each reduced by the debt the snapshot already
// attributes to it. The reduction is never skipped when a snapshot exists.
func (p *Planner) usableLimit(sender, receiver, equivalent string, snap *domain.DebtSnapshot, settings domain.ScenarioSettings) float64 {
	var bestOut, bestIn float64
	var direct *domain.TrustEdge
	for _, e := range p.mirror.ActiveEdges(equivalent) {
		if e.Debtor == sender && e.Limit > bestOut {
			bestOut = e.Limit
		}
		if e.Creditor == receiver && e.Limit > bestIn {
			bestIn = e.Limit
		}
		if e.Debtor == sender && e.Creditor == receiver {
			direct = e
		}
	}
	if bestOut <= 0 || bestIn <= 0 {
		return 0
	}

	usable := bestOut - snap.TotalOutgoing(sender, equivalent)
	if in := bestIn - snap.TotalIncoming(receiver, equivalent); in < usable {
		usable = in
	}
	if direct != nil {
		if d := direct.Limit - snap.Between(sender, receiver, equivalent); d < usable {
			usable = d
		}
	}
	if usable <= 0 {
		return 0
	}

	// Reverse debt means the payment nets out: allow a configured bonus.
	if settings.ReciprocityBonus > 0 && snap.Between(receiver, sender, equivalent) > 0 {
		usable *= 1 + settings.ReciprocityBonus
	}
	return usable
}

// effectiveIntensity folds the warm-up ramp into the run's intensity
// percent. ramp = floor + (1-floor) * min(1, tick/warmupTicks).
func effectiveIntensity(run *domain.Run, settings domain.ScenarioSettings) float64 {
	intensity := float64(run.Intensity) / 100
	if intensity <= 0 {
		return 0
	}
	if settings.WarmupTicks > 0 {
		progress := float64(run.Clock.Tick) / float64(settings.WarmupTicks)
		if progress > 1 {
			progress = 1
		}
		floor := settings.WarmupRampFloor
		intensity *= floor + (1-floor)*progress
	}
	return intensity
}

// rngFor builds the deterministic generator for one roll kind at one
// iteration position.
func rngFor(tickSeed uint64, label string, position int) *rand.Rand {
	return rand.New(rand.NewSource(int64(idhash.DeriveSeed(tickSeed, label, position))))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
