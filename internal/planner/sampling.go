package planner

import (
	"math"
	"math/rand"

	"creditnet-lab/internal/domain"
)

// z90 is the 90th-percentile z-score used to back out the log-normal sigma
// from (p50, p90).
const z90 = 1.2816

// sampleAmount draws a payment amount from the profile's model, clamps it
// to [model.Min, ceiling] where the ceiling is min(usable, model.Max, globalCap), and
// truncates to 2 decimal places, never rounding up. Returns 0 when the
// clamped amount is non-positive, falls below the model minimum, or when
// the minimum itself does not fit under the ceiling.
func sampleAmount(rng *rand.Rand, model domain.AmountModel, usable, globalCap float64) float64 {
	ceiling := usable
	if model.Max > 0 && model.Max < ceiling {
		ceiling = model.Max
	}
	if globalCap > 0 && globalCap < ceiling {
		ceiling = globalCap
	}
	if ceiling <= 0 || model.Min > ceiling {
		// No room for even the minimum amount; never raise the draw
		// past the remaining capacity.
		return 0
	}

	var amount float64
	switch {
	case model.P50 > 0 && model.P90 > model.P50:
		// Log-normal: mean = ln(p50), sigma = ln(p90/p50) / z90.
		mean := math.Log(model.P50)
		sigma := math.Log(model.P90/model.P50) / z90
		amount = math.Exp(mean + sigma*rng.NormFloat64())
	case model.P50 > 0:
		amount = sampleTriangular(rng, model.Min, ceiling, model.P50)
	default:
		lo := model.Min
		if lo >= ceiling {
			return 0
		}
		amount = lo + rng.Float64()*(ceiling-lo)
	}

	if amount > ceiling {
		amount = ceiling
	}
	if amount < model.Min {
		amount = model.Min
	}
	amount = domain.Trunc2(amount)
	if amount <= 0 || amount < model.Min {
		return 0
	}
	return amount
}

// sampleTriangular draws from a triangular distribution on [lo, hi] with
// the given mode; the mode is clamped into the interval, and a degenerate
// interval collapses to lo.
func sampleTriangular(rng *rand.Rand, lo, hi, mode float64) float64 {
	if hi <= lo {
		return lo
	}
	if mode < lo || mode > hi {
		mode = lo + (hi-lo)/2
	}
	u := rng.Float64()
	c := (mode - lo) / (hi - lo)
	if u < c {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}

// periodicityProbability computes the keep probability for an amount under
// a profile periodicity factor: 1 / (1 + ln(max(amount/p50, 0.1)) × factor),
// clamped to [0, 1].
func periodicityProbability(amount, p50, factor float64) float64 {
	ratio := amount / p50
	if ratio < 0.1 {
		ratio = 0.1
	}
	p := 1 / (1 + math.Log(ratio)*factor)
	return clamp01(p)
}
