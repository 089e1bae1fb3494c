package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/scenario"
)

// ringScenario builds a four-node ring where every participant trusts the
// next one with limit 100 and transacts on every candidate roll.
func ringScenario() *domain.Scenario {
	sc := &domain.Scenario{
		ScenarioID:  "ring",
		Equivalents: []string{"UAH"},
		Participants: []*domain.Participant{
			{ID: "a", Group: "shops", Profile: "busy"},
			{ID: "b", Group: "shops", Profile: "busy"},
			{ID: "c", Group: "shops", Profile: "busy"},
			{ID: "d", Group: "shops", Profile: "busy"},
		},
		TrustEdges: []*domain.TrustEdge{
			{Creditor: "b", Debtor: "a", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "c", Debtor: "b", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "d", Debtor: "c", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "a", Debtor: "d", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
		},
		Profiles: []*domain.BehaviorProfile{
			{
				Name:    "busy",
				TxRate:  1.0,
				Amounts: domain.AmountModel{Min: 1, Max: 10},
			},
		},
	}
	sc.Settings.ActionsPerTickMax = 8
	sc.Settings.Normalize()
	sc.Settings.WarmupTicks = 0
	return sc
}

func newRun(seed uint64, intensity int, tick int64) *domain.Run {
	return &domain.Run{
		RunID:     "run-1",
		Seed:      seed,
		Intensity: intensity,
		Clock:     domain.RunClock{Tick: tick, Step: 1000},
	}
}

func TestPlan_Deterministic(t *testing.T) {
	p := New(scenario.NewMirror(ringScenario(), nil))
	snap := domain.NewDebtSnapshot()

	first := p.Plan(newRun(42, 100, 5), snap)
	second := p.Plan(newRun(42, 100, 5), snap)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestPlan_SequencesAscendFromZero(t *testing.T) {
	p := New(scenario.NewMirror(ringScenario(), nil))
	intents := p.Plan(newRun(42, 100, 5), domain.NewDebtSnapshot())

	require.NotEmpty(t, intents)
	for i, intent := range intents {
		assert.Equal(t, i, intent.Sequence)
	}
}

func TestPlan_LowerIntensityIsPrefix(t *testing.T) {
	p := New(scenario.NewMirror(ringScenario(), nil))
	snap := domain.NewDebtSnapshot()

	full := p.Plan(newRun(42, 100, 5), snap)
	half := p.Plan(newRun(42, 50, 5), snap)

	require.NotEmpty(t, half)
	require.LessOrEqual(t, len(half), len(full))
	assert.Equal(t, full[:len(half)], half)
}

func TestPlan_ZeroIntensityPlansNothing(t *testing.T) {
	p := New(scenario.NewMirror(ringScenario(), nil))
	assert.Nil(t, p.Plan(newRun(42, 0, 5), domain.NewDebtSnapshot()))
}

func TestPlan_WarmupRampSuppressesTickZero(t *testing.T) {
	sc := ringScenario()
	sc.Settings.WarmupTicks = 10
	sc.Settings.WarmupRampFloor = 0
	p := New(scenario.NewMirror(sc, nil))

	assert.Nil(t, p.Plan(newRun(42, 100, 0), domain.NewDebtSnapshot()))

	// Past the ramp the plan is back to full strength.
	assert.NotEmpty(t, p.Plan(newRun(42, 100, 10), domain.NewDebtSnapshot()))
}

func TestPlan_AmountsWithinModelAndCapacity(t *testing.T) {
	p := New(scenario.NewMirror(ringScenario(), nil))
	intents := p.Plan(newRun(7, 100, 3), domain.NewDebtSnapshot())

	require.NotEmpty(t, intents)
	for _, intent := range intents {
		assert.Greater(t, intent.Amount, 0.0)
		assert.LessOrEqual(t, intent.Amount, 100.0)
		assert.NotEqual(t, intent.Sender, intent.Receiver)
	}
}

func TestPlan_GlobalAmountCap(t *testing.T) {
	sc := ringScenario()
	sc.Settings.GlobalAmountCap = 2.5
	p := New(scenario.NewMirror(sc, nil))

	intents := p.Plan(newRun(7, 100, 3), domain.NewDebtSnapshot())
	require.NotEmpty(t, intents)
	for _, intent := range intents {
		assert.LessOrEqual(t, intent.Amount, 2.5)
	}
}

func TestPlan_FrozenSenderExcluded(t *testing.T) {
	sc := ringScenario()
	sc.Participants[0].Frozen = true // freeze "a"
	p := New(scenario.NewMirror(sc, nil))

	intents := p.Plan(newRun(42, 100, 5), domain.NewDebtSnapshot())
	for _, intent := range intents {
		assert.NotEqual(t, "a", intent.Sender)
	}
}

func TestPlan_SaturatedNetworkPlansNothing(t *testing.T) {
	p := New(scenario.NewMirror(ringScenario(), nil))

	// Every edge at its limit: usable capacity is zero everywhere.
	snap := domain.NewDebtSnapshot()
	snap.Debts[domain.DebtKey{Debtor: "a", Creditor: "b", Equivalent: "UAH"}] = 100
	snap.Debts[domain.DebtKey{Debtor: "b", Creditor: "c", Equivalent: "UAH"}] = 100
	snap.Debts[domain.DebtKey{Debtor: "c", Creditor: "d", Equivalent: "UAH"}] = 100
	snap.Debts[domain.DebtKey{Debtor: "d", Creditor: "a", Equivalent: "UAH"}] = 100

	assert.Empty(t, p.Plan(newRun(42, 100, 5), snap))
}

func TestPlan_DisabledProfilePlansNothing(t *testing.T) {
	sc := ringScenario()
	sc.Profiles[0].TxRate = 0
	p := New(scenario.NewMirror(sc, nil))

	assert.Empty(t, p.Plan(newRun(42, 100, 5), domain.NewDebtSnapshot()))
}
