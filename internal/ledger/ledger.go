// Package ledger defines the interface to the debt/ledger service: the
// external system that validates, routes and commits individual payments
// and clearing cycles. The simulation core treats it as a black box with
// committed/rejected/timeout/error outcomes.
package ledger

import (
	"context"

	"creditnet-lab/internal/domain"
)

// PaymentRequest asks the ledger to route and commit one payment.
type PaymentRequest struct {
	Sender         string
	Receiver       string
	Equivalent     string
	Amount         float64
	IdempotencyKey string
}

// PaymentResult reports a committed payment. Rejections and timeouts are
// returned as errors (RejectionError, ErrTimeout).
type PaymentResult struct {
	Route []string // participant IDs, sender first
}

// CycleEdge is one hop of a debt cycle to settle. Amount is the clear
// amount, identical across all edges of one cycle.
type CycleEdge struct {
	Debtor     string
	Creditor   string
	Equivalent string
	Amount     float64
}

// Service opens transactional sessions against the ledger.
type Service interface {
	// OpenSession begins a new transactional scope. Sessions are not safe
	// for concurrent use; callers serialize access to a session.
	OpenSession(ctx context.Context) (Session, error)
}

// Session is one transactional scope. All mutations are invisible to other
// sessions until Commit.
type Session interface {
	// EnsureParticipant registers a participant. Idempotent.
	EnsureParticipant(ctx context.Context, id string) error

	// EnsureTrustEdge creates a trust edge if absent. Idempotent: an
	// existing edge is left untouched.
	EnsureTrustEdge(ctx context.Context, edge *domain.TrustEdge) error

	// SetTrustLimit updates an edge's limit. Returns ErrEdgeNotFound.
	SetTrustLimit(ctx context.Context, key domain.EdgeKey, limit float64) error

	// SetEdgeStatus updates an edge's status. Returns ErrEdgeNotFound.
	SetEdgeStatus(ctx context.Context, key domain.EdgeKey, status domain.EdgeStatus) error

	// SeedDebt sets an initial debt if none exists for the pair. Idempotent.
	SeedDebt(ctx context.Context, debt *domain.Debt) error

	// InjectDebt adds to the outstanding debt for the pair, capacity
	// permitting. Returns a RejectionError when the active edge limit
	// would be exceeded.
	InjectDebt(ctx context.Context, debt *domain.Debt) error

	// Snapshot aggregates current outstanding debts.
	Snapshot(ctx context.Context) (*domain.DebtSnapshot, error)

	// AttemptPayment routes and commits one payment. Returns a
	// RejectionError for client-class failures, ErrTimeout on deadline.
	AttemptPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)

	// SettleCycle atomically reduces every edge of the cycle by its
	// Amount. Fails without partial effect if any edge lacks the debt.
	SettleCycle(ctx context.Context, cycle []CycleEdge) error

	// Sub runs fn in an isolated sub-transaction: if fn fails, only its
	// own writes are rolled back and the enclosing session stays valid.
	Sub(ctx context.Context, fn func(Session) error) error

	// Commit publishes the session's writes.
	Commit(ctx context.Context) error

	// Rollback discards the session's writes. Safe after Commit (no-op).
	Rollback(ctx context.Context) error
}
