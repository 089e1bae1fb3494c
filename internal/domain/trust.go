package domain

import "math"

// EdgeStatus is the lifecycle status of a trust edge.
// Only active edges carry usable capacity.
type EdgeStatus string

// Edge status constants.
const (
	EdgeStatusActive EdgeStatus = "active"
	EdgeStatusFrozen EdgeStatus = "frozen"
	EdgeStatusClosed EdgeStatus = "closed"
)

// TrustEdge is a directed credit relation: the creditor permits the debtor
// to accumulate debt up to Limit, denominated in Equivalent.
type TrustEdge struct {
	Creditor   string     `yaml:"creditor" json:"creditor"`
	Debtor     string     `yaml:"debtor" json:"debtor"`
	Equivalent string     `yaml:"equivalent" json:"equivalent"`
	Limit      float64    `yaml:"limit" json:"limit"`
	Status     EdgeStatus `yaml:"status" json:"status"`
}

// Key returns the canonical identity of the edge within a scenario.
func (e *TrustEdge) Key() EdgeKey {
	return EdgeKey{Creditor: e.Creditor, Debtor: e.Debtor, Equivalent: e.Equivalent}
}

// Active reports whether the edge carries usable capacity.
func (e *TrustEdge) Active() bool {
	return e.Status == EdgeStatusActive
}

// EdgeKey identifies a trust edge by (creditor, debtor, equivalent).
type EdgeKey struct {
	Creditor   string
	Debtor     string
	Equivalent string
}

// Debt is a directed amount owed, debtor → creditor, in one equivalent.
// Amount is always >= 0; the ledger enforces that it never exceeds the
// corresponding active trust-edge limit at commit time.
type Debt struct {
	Debtor     string
	Creditor   string
	Equivalent string
	Amount     float64
}

// DebtKey identifies a debt by (debtor, creditor, equivalent).
type DebtKey struct {
	Debtor     string
	Creditor   string
	Equivalent string
}

// DebtSnapshot is a point-in-time aggregation of outstanding debt amounts,
// keyed by (debtor, creditor, equivalent). Rebuilt from the ledger every
// tick and never cached across ticks.
type DebtSnapshot struct {
	Debts map[DebtKey]float64
}

// NewDebtSnapshot creates an empty snapshot.
func NewDebtSnapshot() *DebtSnapshot {
	return &DebtSnapshot{Debts: make(map[DebtKey]float64)}
}

// Between returns the outstanding debt debtor → creditor in the equivalent.
func (s *DebtSnapshot) Between(debtor, creditor, equivalent string) float64 {
	if s == nil {
		return 0
	}
	return s.Debts[DebtKey{Debtor: debtor, Creditor: creditor, Equivalent: equivalent}]
}

// TotalOutgoing returns the debtor's total outstanding debt in the equivalent.
func (s *DebtSnapshot) TotalOutgoing(debtor, equivalent string) float64 {
	if s == nil {
		return 0
	}
	var total float64
	for k, v := range s.Debts {
		if k.Debtor == debtor && k.Equivalent == equivalent {
			total += v
		}
	}
	return total
}

// TotalIncoming returns the total debt owed to the creditor in the equivalent.
func (s *DebtSnapshot) TotalIncoming(creditor, equivalent string) float64 {
	if s == nil {
		return 0
	}
	var total float64
	for k, v := range s.Debts {
		if k.Creditor == creditor && k.Equivalent == equivalent {
			total += v
		}
	}
	return total
}

// Total returns the gross outstanding debt across all pairs in the equivalent.
func (s *DebtSnapshot) Total(equivalent string) float64 {
	if s == nil {
		return 0
	}
	var total float64
	for k, v := range s.Debts {
		if k.Equivalent == equivalent {
			total += v
		}
	}
	return total
}

// Trunc2 truncates an amount to 2 decimal places, always toward zero.
// Payment amounts are never rounded up past what was sampled.
func Trunc2(v float64) float64 {
	return math.Trunc(v*100) / 100
}
