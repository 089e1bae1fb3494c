package domain

// EventKind discriminates domain events emitted to observers.
type EventKind string

// Event kinds.
const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventClearingPlanned  EventKind = "clearing_planned"
	EventClearingDone     EventKind = "clearing_done"
	EventTopologyChanged  EventKind = "topology_changed"
	EventRunStatus        EventKind = "run_status"
	EventNote             EventKind = "note"
)

// Event is one typed domain event. EventID is assigned at broadcast time,
// monotonically increasing per run, suitable for replay-from-offset.
type Event struct {
	EventID int64     `json:"event_id"`
	RunID   string    `json:"run_id"`
	Kind    EventKind `json:"kind"`
	Tick    int64     `json:"tick"`
	SimMs   int64     `json:"sim_ms"`

	Payment  *PaymentEvent  `json:"payment,omitempty"`
	Clearing *ClearingEvent `json:"clearing,omitempty"`
	Topology *TopologyPatch `json:"topology,omitempty"`
	Status   *RunStatus     `json:"status,omitempty"`
	Note     string         `json:"note,omitempty"`
}

// PaymentEvent carries the outcome of one executed intent.
type PaymentEvent struct {
	Sequence       int      `json:"sequence"`
	Equivalent     string   `json:"equivalent"`
	Sender         string   `json:"sender"`
	Receiver       string   `json:"receiver"`
	Amount         float64  `json:"amount"`
	Committed      bool     `json:"committed"`
	RejectionCode  string   `json:"rejection_code,omitempty"`
	Error          string   `json:"error,omitempty"`
	Route          []string `json:"route,omitempty"`
	IdempotencyKey string   `json:"idempotency_key"`

	// Patch is a best-effort visualization update attached to successes.
	Patch *TopologyPatch `json:"patch,omitempty"`
}

// ClearingEvent reports a planned or completed clearing pass.
type ClearingEvent struct {
	Equivalent    string   `json:"equivalent"`
	Cycles        int      `json:"cycles"`
	ClearedAmount float64  `json:"cleared_amount"`
	TouchedNodes  []string `json:"touched_nodes,omitempty"`
	TouchedEdges  int      `json:"touched_edges"`
	BudgetMs      int64    `json:"budget_ms,omitempty"`
	Deferred      bool     `json:"deferred,omitempty"` // time budget hit before exhaustion
}

// NodePatch is an incremental visualization update for one participant.
type NodePatch struct {
	ID     string `json:"id"`
	Group  string `json:"group,omitempty"`
	Frozen bool   `json:"frozen,omitempty"`
}

// EdgePatch is an incremental visualization update for one trust edge.
type EdgePatch struct {
	Creditor   string  `json:"creditor"`
	Debtor     string  `json:"debtor"`
	Equivalent string  `json:"equivalent"`
	Limit      float64 `json:"limit"`
	Debt       float64 `json:"debt"`
	Status     string  `json:"status,omitempty"`
}

// TopologyPatch is the smallest node/edge set affected by a topology
// mutation. A topology_changed event must never carry an empty patch: an
// empty payload forces observers into a full resynchronization.
type TopologyPatch struct {
	Nodes []NodePatch `json:"nodes,omitempty"`
	Edges []EdgePatch `json:"edges,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (p *TopologyPatch) Empty() bool {
	return p == nil || (len(p.Nodes) == 0 && len(p.Edges) == 0)
}
