package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/ledger"
)

// lineNetwork seeds a -> b -> c with the given trust limits: b trusts a,
// c trusts b. Payments flow along trust, so a can pay c through b.
func lineNetwork(t *testing.T, limitAB, limitBC float64) (*Ledger, ledger.Session) {
	t.Helper()
	ctx := context.Background()
	l := New()
	s, err := l.OpenSession(ctx)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.EnsureParticipant(ctx, id))
	}
	require.NoError(t, s.EnsureTrustEdge(ctx, &domain.TrustEdge{
		Creditor: "b", Debtor: "a", Equivalent: "UAH", Limit: limitAB, Status: domain.EdgeStatusActive,
	}))
	require.NoError(t, s.EnsureTrustEdge(ctx, &domain.TrustEdge{
		Creditor: "c", Debtor: "b", Equivalent: "UAH", Limit: limitBC, Status: domain.EdgeStatusActive,
	}))
	require.NoError(t, s.Commit(ctx))

	s, err = l.OpenSession(ctx)
	require.NoError(t, err)
	return l, s
}

func pay(s ledger.Session, sender, receiver string, amount float64, key string) (*ledger.PaymentResult, error) {
	return s.AttemptPayment(context.Background(), ledger.PaymentRequest{
		Sender:         sender,
		Receiver:       receiver,
		Equivalent:     "UAH",
		Amount:         amount,
		IdempotencyKey: key,
	})
}

func TestAttemptPayment_MultiHopRoute(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)

	res, err := pay(s, "a", "c", 40, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.Route)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 40, snap.Between("a", "b", "UAH"), 1e-9)
	assert.InDelta(t, 40, snap.Between("b", "c", "UAH"), 1e-9)
}

func TestAttemptPayment_NoCapacity(t *testing.T) {
	_, s := lineNetwork(t, 100, 30)

	_, err := pay(s, "a", "c", 40, "k1")
	require.Error(t, err)
	assert.Equal(t, ledger.RejectNoCapacity, ledger.RejectionCode(err))
}

func TestAttemptPayment_NotActive(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	key := domain.EdgeKey{Creditor: "c", Debtor: "b", Equivalent: "UAH"}
	require.NoError(t, s.SetEdgeStatus(ctx, key, domain.EdgeStatusFrozen))

	_, err := pay(s, "a", "c", 40, "k1")
	require.Error(t, err)
	assert.Equal(t, ledger.RejectNotActive, ledger.RejectionCode(err))
}

func TestAttemptPayment_NoRoute(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()
	require.NoError(t, s.EnsureParticipant(ctx, "loner"))

	_, err := pay(s, "a", "loner", 10, "k1")
	require.Error(t, err)
	assert.Equal(t, ledger.RejectNoRoute, ledger.RejectionCode(err))
}

func TestAttemptPayment_UnknownParticipants(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)

	_, err := pay(s, "ghost", "c", 10, "k1")
	assert.Equal(t, ledger.RejectSenderNotFound, ledger.RejectionCode(err))

	_, err = pay(s, "a", "ghost", 10, "k2")
	assert.Equal(t, ledger.RejectReceiverNotFound, ledger.RejectionCode(err))
}

func TestAttemptPayment_InvalidAmount(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)

	_, err := pay(s, "a", "c", 0, "k1")
	assert.Equal(t, ledger.RejectInvalidAmount, ledger.RejectionCode(err))

	_, err = pay(s, "a", "c", -5, "k2")
	assert.Equal(t, ledger.RejectInvalidAmount, ledger.RejectionCode(err))
}

func TestAttemptPayment_IdempotentReplay(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	first, err := pay(s, "a", "c", 40, "same-key")
	require.NoError(t, err)

	// Replay with the same key returns the original route and must not
	// move debt a second time.
	second, err := pay(s, "a", "c", 40, "same-key")
	require.NoError(t, err)
	assert.Equal(t, first.Route, second.Route)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 40, snap.Between("a", "b", "UAH"), 1e-9)
}

func TestAttemptPayment_DeterministicRouting(t *testing.T) {
	ctx := context.Background()
	build := func() ledger.Session {
		l := New()
		s, err := l.OpenSession(ctx)
		require.NoError(t, err)
		for _, id := range []string{"a", "b1", "b2", "c"} {
			require.NoError(t, s.EnsureParticipant(ctx, id))
		}
		// Two equally short paths; BFS expands neighbors in sorted order,
		// so b1 wins every time.
		for _, e := range []domain.TrustEdge{
			{Creditor: "b1", Debtor: "a", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "b2", Debtor: "a", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "c", Debtor: "b1", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "c", Debtor: "b2", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
		} {
			e := e
			require.NoError(t, s.EnsureTrustEdge(ctx, &e))
		}
		return s
	}

	r1, err := pay(build(), "a", "c", 10, "")
	require.NoError(t, err)
	r2, err := pay(build(), "a", "c", 10, "")
	require.NoError(t, err)
	assert.Equal(t, r1.Route, r2.Route)
	assert.Equal(t, []string{"a", "b1", "c"}, r1.Route)
}

func TestSub_RollbackOnError(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	err := s.Sub(ctx, func(inner ledger.Session) error {
		_, payErr := pay(inner, "a", "c", 40, "k1")
		require.NoError(t, payErr)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// The failed sub-transaction's debt must be invisible.
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Between("a", "b", "UAH"))
}

func TestSub_MergesOnSuccess(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	err := s.Sub(ctx, func(inner ledger.Session) error {
		_, payErr := pay(inner, "a", "c", 40, "k1")
		return payErr
	})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 40, snap.Between("a", "b", "UAH"), 1e-9)
}

func TestCommit_PublishesToOtherSessions(t *testing.T) {
	l, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	_, err := pay(s, "a", "c", 40, "k1")
	require.NoError(t, err)

	// Uncommitted writes are session-private.
	other, err := l.OpenSession(ctx)
	require.NoError(t, err)
	snap, err := other.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Between("a", "b", "UAH"))
	require.NoError(t, other.Rollback(ctx))

	require.NoError(t, s.Commit(ctx))

	after, err := l.OpenSession(ctx)
	require.NoError(t, err)
	snap, err = after.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 40, snap.Between("a", "b", "UAH"), 1e-9)
}

func TestRollback_DiscardsEverything(t *testing.T) {
	l, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	_, err := pay(s, "a", "c", 40, "k1")
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx))

	after, err := l.OpenSession(ctx)
	require.NoError(t, err)
	snap, err := after.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Between("a", "b", "UAH"))
}

func TestSession_ClosedAfterCommit(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx))
	_, err := pay(s, "a", "c", 10, "k1")
	assert.ErrorIs(t, err, ledger.ErrSessionClosed)

	// Rollback after commit is a documented no-op.
	assert.NoError(t, s.Rollback(ctx))
}

func TestInjectDebt_RespectsLimit(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	require.NoError(t, s.InjectDebt(ctx, &domain.Debt{
		Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 80,
	}))
	err := s.InjectDebt(ctx, &domain.Debt{
		Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 30,
	})
	assert.Equal(t, ledger.RejectLimitExceeded, ledger.RejectionCode(err))
}

func TestSeedDebt_Idempotent(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	require.NoError(t, s.SeedDebt(ctx, &domain.Debt{Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 25}))
	require.NoError(t, s.SeedDebt(ctx, &domain.Debt{Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 99}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 25, snap.Between("a", "b", "UAH"), 1e-9)
}

func TestSettleCycle_AtomicValidation(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	require.NoError(t, s.SeedDebt(ctx, &domain.Debt{Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 50}))

	// Second edge has only 10 outstanding; asking for 50 must fail with no
	// partial effect on the first edge.
	require.NoError(t, s.SeedDebt(ctx, &domain.Debt{Debtor: "b", Creditor: "c", Equivalent: "UAH", Amount: 10}))
	err := s.SettleCycle(ctx, []ledger.CycleEdge{
		{Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 50},
		{Debtor: "b", Creditor: "c", Equivalent: "UAH", Amount: 50},
	})
	require.Error(t, err)
	assert.Equal(t, ledger.RejectNoCapacity, ledger.RejectionCode(err))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 50, snap.Between("a", "b", "UAH"), 1e-9)
	assert.InDelta(t, 10, snap.Between("b", "c", "UAH"), 1e-9)
}

func TestSettleCycle_ClearsResidueBelowEpsilon(t *testing.T) {
	_, s := lineNetwork(t, 100, 100)
	ctx := context.Background()

	require.NoError(t, s.SeedDebt(ctx, &domain.Debt{Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 50}))
	require.NoError(t, s.SeedDebt(ctx, &domain.Debt{Debtor: "b", Creditor: "c", Equivalent: "UAH", Amount: 50}))

	require.NoError(t, s.SettleCycle(ctx, []ledger.CycleEdge{
		{Debtor: "a", Creditor: "b", Equivalent: "UAH", Amount: 50},
		{Debtor: "b", Creditor: "c", Equivalent: "UAH", Amount: 50},
	}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Debts)
}
