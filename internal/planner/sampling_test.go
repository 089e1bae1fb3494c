package planner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"creditnet-lab/internal/domain"
)

func TestSampleAmount_LogNormalClampedToModelBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	model := domain.AmountModel{P50: 100, P90: 300, Min: 20, Max: 200}

	for i := 0; i < 1000; i++ {
		amount := sampleAmount(rng, model, 1000, 0)
		assert.GreaterOrEqual(t, amount, 20.0)
		assert.LessOrEqual(t, amount, 200.0)
	}
}

func TestSampleAmount_CeilingIsUsableLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	model := domain.AmountModel{Min: 1, Max: 500}

	for i := 0; i < 200; i++ {
		amount := sampleAmount(rng, model, 30, 0)
		assert.LessOrEqual(t, amount, 30.0)
	}
}

func TestSampleAmount_GlobalCapWins(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := domain.AmountModel{Min: 1, Max: 500}

	for i := 0; i < 200; i++ {
		amount := sampleAmount(rng, model, 400, 25)
		assert.LessOrEqual(t, amount, 25.0)
	}
}

func TestSampleAmount_NoHeadroom(t *testing.T) {
	rng := rand.New(rand.NewSource(4))

	// Ceiling at or below zero, or below the model minimum, yields nothing.
	assert.Zero(t, sampleAmount(rng, domain.AmountModel{Min: 1, Max: 10}, 0, 0))
	assert.Zero(t, sampleAmount(rng, domain.AmountModel{Min: 50, Max: 100}, 20, 0))
}

func TestSampleAmount_NeverExceedsUsableLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	model := domain.AmountModel{P50: 100, P90: 300, Min: 20, Max: 200}

	// The model minimum must never pull a draw above the remaining
	// capacity; with usable below Min the only valid outcome is zero.
	for i := 0; i < 200; i++ {
		assert.Zero(t, sampleAmount(rng, model, 10, 0))
	}

	// Same model with a squeezed global cap.
	for i := 0; i < 200; i++ {
		assert.Zero(t, sampleAmount(rng, model, 1000, 10))
	}

	for i := 0; i < 500; i++ {
		usable := 5 + rng.Float64()*100
		amount := sampleAmount(rng, model, usable, 0)
		assert.LessOrEqual(t, amount, usable)
		if amount > 0 {
			assert.GreaterOrEqual(t, amount, model.Min)
		}
	}
}

func TestSampleAmount_TwoDecimalPlaces(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	model := domain.AmountModel{Min: 1, Max: 100}

	for i := 0; i < 200; i++ {
		amount := sampleAmount(rng, model, 100, 0)
		assert.Equal(t, domain.Trunc2(amount), amount)
	}
}

func TestSampleTriangular_StaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(6))

	for i := 0; i < 500; i++ {
		v := sampleTriangular(rng, 10, 50, 20)
		assert.GreaterOrEqual(t, v, 10.0)
		assert.LessOrEqual(t, v, 50.0)
	}

	// Degenerate interval collapses to the lower bound.
	assert.Equal(t, 10.0, sampleTriangular(rng, 10, 10, 10))
}
