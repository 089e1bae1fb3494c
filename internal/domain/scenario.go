package domain

// Scenario is the static description of a simulated credit network:
// participants, trust edges, behavior profiles and a timeline of events.
// Read-only during a run except for in-place patches applied by inject
// events and trust drift, which go through the run's scenario mirror.
type Scenario struct {
	ScenarioID   string             `yaml:"scenario_id" json:"scenario_id"`
	Name         string             `yaml:"name" json:"name"`
	Equivalents  []string           `yaml:"equivalents" json:"equivalents"`
	Participants []*Participant     `yaml:"participants" json:"participants"`
	TrustEdges   []*TrustEdge       `yaml:"trust_edges" json:"trust_edges"`
	Profiles     []*BehaviorProfile `yaml:"profiles" json:"profiles"`
	Timeline     []*TimelineEvent   `yaml:"timeline" json:"timeline"`
	SeedDebts    []*Debt            `yaml:"seed_debts" json:"seed_debts"`
	Settings     ScenarioSettings   `yaml:"settings" json:"settings"`
}

// Profile returns the named behavior profile, or nil.
func (s *Scenario) Profile(name string) *BehaviorProfile {
	for _, p := range s.Profiles {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Participant returns the participant with the given ID, or nil.
func (s *Scenario) Participant(id string) *Participant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Participant is a node in the credit network.
type Participant struct {
	ID      string `yaml:"id" json:"id"`
	Group   string `yaml:"group" json:"group"`
	Profile string `yaml:"profile" json:"profile"`
	Frozen  bool   `yaml:"frozen" json:"frozen"`
}

// AmountModel describes how payment amounts are sampled for a profile.
// With P50 and P90 set, amounts are sampled log-normally; with only P50,
// triangularly around it; otherwise uniformly in [Min, Max].
type AmountModel struct {
	P50 float64 `yaml:"p50" json:"p50"`
	P90 float64 `yaml:"p90" json:"p90"`
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// FlowChain expresses a directed group flow: senders in this profile prefer
// receivers in TargetGroup with probability Affinity when reachable.
type FlowChain struct {
	TargetGroup string  `yaml:"target_group" json:"target_group"`
	Affinity    float64 `yaml:"affinity" json:"affinity"`
}

// BehaviorProfile describes how a class of participants transacts.
type BehaviorProfile struct {
	Name   string  `yaml:"name" json:"name"`
	TxRate float64 `yaml:"tx_rate" json:"tx_rate"` // base acceptance probability per candidate

	// EquivalentWeights biases equivalents; missing entries weigh 1.0.
	EquivalentWeights map[string]float64 `yaml:"equivalent_weights" json:"equivalent_weights"`

	// RecipientGroupWeights biases receiver selection by group.
	RecipientGroupWeights map[string]float64 `yaml:"recipient_group_weights" json:"recipient_group_weights"`

	// Flows lists directed group flows tried before group-weighted selection.
	Flows []FlowChain `yaml:"flows" json:"flows"`

	Amounts AmountModel `yaml:"amounts" json:"amounts"`

	// Periodicity != 1 makes amounts far above P50 progressively rarer.
	Periodicity float64 `yaml:"periodicity" json:"periodicity"`
}

// Timeline event types.
const (
	EventTypeNote   = "note"
	EventTypeStress = "stress"
	EventTypeInject = "inject"
)

// TimelineEvent is a scheduled scenario event. Note events are diagnostic
// only; stress events scale tx rates while active; inject events mutate
// topology once when fired.
type TimelineEvent struct {
	AtMs   int64        `yaml:"at_ms" json:"at_ms"`
	Type   string       `yaml:"type" json:"type"`
	Note   string       `yaml:"note,omitempty" json:"note,omitempty"`
	Stress *StressEvent `yaml:"stress,omitempty" json:"stress,omitempty"`
	Inject *InjectEvent `yaml:"inject,omitempty" json:"inject,omitempty"`

	// Fired marks one-shot events (note, inject) as already applied.
	// Run-local state; never persisted back to the scenario document.
	Fired bool `yaml:"-" json:"-"`
}

// Stress scopes.
const (
	StressScopeAll     = "all"
	StressScopeGroup   = "group"
	StressScopeProfile = "profile"
)

// StressEvent scales transaction rates for its scope while active.
type StressEvent struct {
	Scope      string  `yaml:"scope" json:"scope"`   // all | group | profile
	Target     string  `yaml:"target" json:"target"` // group or profile name; empty for all
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	UntilMs    int64   `yaml:"until_ms" json:"until_ms"` // 0 means open-ended
}

// ActiveAt reports whether the stress window covers the simulated time,
// given the event's scheduled start.
func (e *TimelineEvent) ActiveAt(simMs int64) bool {
	if e.Type != EventTypeStress || e.Stress == nil {
		return false
	}
	if simMs < e.AtMs {
		return false
	}
	return e.Stress.UntilMs == 0 || simMs <= e.Stress.UntilMs
}

// Inject kinds.
const (
	InjectAddParticipant    = "add_participant"
	InjectCreateTrustEdge   = "create_trust_edge"
	InjectFreezeParticipant = "freeze_participant"
	InjectDebt              = "inject_debt"
)

// InjectEvent mutates network topology mid-run. Each kind is individually
// idempotent and best-effort.
type InjectEvent struct {
	Kind string `yaml:"kind" json:"kind"`

	// add_participant / freeze_participant
	Participant *Participant `yaml:"participant,omitempty" json:"participant,omitempty"`

	// create_trust_edge
	Edge *TrustEdge `yaml:"edge,omitempty" json:"edge,omitempty"`

	// inject_debt
	Debt *Debt `yaml:"debt,omitempty" json:"debt,omitempty"`
}
