package executor

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/ledger"
	ledgermem "creditnet-lab/internal/ledger/memory"
)

// chainSession opens a committed a -> b -> c trust chain and returns a
// fresh working session over it.
func chainSession(t *testing.T, limit float64) ledger.Session {
	t.Helper()
	ctx := context.Background()
	l := ledgermem.New()
	s, err := l.OpenSession(ctx)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.EnsureParticipant(ctx, id))
	}
	require.NoError(t, s.EnsureTrustEdge(ctx, &domain.TrustEdge{
		Creditor: "b", Debtor: "a", Equivalent: "UAH", Limit: limit, Status: domain.EdgeStatusActive,
	}))
	require.NoError(t, s.EnsureTrustEdge(ctx, &domain.TrustEdge{
		Creditor: "c", Debtor: "b", Equivalent: "UAH", Limit: limit, Status: domain.EdgeStatusActive,
	}))
	require.NoError(t, s.Commit(ctx))

	s, err = l.OpenSession(ctx)
	require.NoError(t, err)
	return s
}

func intentBatch(n int, amount float64) []*domain.PaymentIntent {
	intents := make([]*domain.PaymentIntent, 0, n)
	for i := 0; i < n; i++ {
		intents = append(intents, &domain.PaymentIntent{
			Sequence:   i,
			Equivalent: "UAH",
			Sender:     "a",
			Receiver:   "c",
			Amount:     amount,
		})
	}
	return intents
}

func TestExecute_EmitsInSequenceOrder(t *testing.T) {
	session := chainSession(t, 1e6)

	var gate sync.Mutex
	var emitted []int
	exec := New(Options{
		MaxInFlight: 4,
		Emit: func(ev *domain.PaymentEvent, committed bool) {
			emitted = append(emitted, ev.Sequence)
			assert.True(t, committed)
		},
	}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, session, intentBatch(20, 1))
	require.NoError(t, err)

	require.Len(t, emitted, 20)
	for i, seq := range emitted {
		assert.Equal(t, i, seq)
	}
	assert.Equal(t, 20, res.Attempts)
	assert.Equal(t, 20, res.Committed)
	assert.Zero(t, res.Rejected)
	assert.Zero(t, res.Errors)
}

// jitterSession commits every payment after a seeded-random delay, so
// tasks finish in an order unrelated to their sequence numbers.
type jitterSession struct {
	stubSession
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *jitterSession) AttemptPayment(_ context.Context, req ledger.PaymentRequest) (*ledger.PaymentResult, error) {
	s.mu.Lock()
	d := time.Duration(s.rng.Intn(3)) * time.Millisecond
	s.mu.Unlock()
	time.Sleep(d)
	return &ledger.PaymentResult{Route: []string{req.Sender, req.Receiver}}, nil
}

func (s *jitterSession) Sub(_ context.Context, fn func(ledger.Session) error) error {
	return fn(s)
}

func TestExecute_ReordersJitteredCompletions(t *testing.T) {
	session := &jitterSession{rng: rand.New(rand.NewSource(42))}

	var gate sync.Mutex
	var emitted []int
	exec := New(Options{
		MaxInFlight: 8,
		Emit: func(ev *domain.PaymentEvent, committed bool) {
			emitted = append(emitted, ev.Sequence)
		},
	}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, session, intentBatch(64, 1))
	require.NoError(t, err)

	require.Len(t, emitted, 64)
	for i, seq := range emitted {
		assert.Equal(t, i, seq)
	}
	assert.Equal(t, 64, res.Committed)
}

func TestExecute_ConcurrentIntentsShareOneSession(t *testing.T) {
	session := chainSession(t, 1e6)

	var gate sync.Mutex
	exec := New(Options{MaxInFlight: 8}, &gate)

	// Every sub-transaction pushes and merges overlays on the same
	// session; with in-flight tasks overlapping, none may be lost.
	res, err := exec.Execute(context.Background(), "run-1", 0, session, intentBatch(64, 1))
	require.NoError(t, err)

	assert.Equal(t, 64, res.Attempts)
	assert.Equal(t, 64, res.Committed)

	ctx := context.Background()
	snap, err := session.Snapshot(ctx)
	require.NoError(t, err)
	key := domain.DebtKey{Debtor: "a", Creditor: "b", Equivalent: "UAH"}
	assert.InDelta(t, 64, snap.Debts[key], 1e-9)
}

func TestExecute_CountsRejectionsByCode(t *testing.T) {
	// Limit covers only the first two 40s; the rest reject on capacity.
	session := chainSession(t, 80)

	var gate sync.Mutex
	exec := New(Options{MaxInFlight: 1}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, session, intentBatch(5, 40))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 2, res.Committed)
	assert.Equal(t, 3, res.Rejected)
	assert.Equal(t, 3, res.RejectionCodes[ledger.RejectNoCapacity])
}

func TestExecute_UnknownSenderRejectedBeforeLedger(t *testing.T) {
	session := chainSession(t, 100)

	var gate sync.Mutex
	exec := New(Options{
		MaxInFlight: 1,
		Lookup:      func(id string) *domain.Participant { return nil },
	}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, session, intentBatch(3, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rejected)
	assert.Equal(t, 3, res.RejectionCodes[ledger.RejectSenderNotFound])
}

func TestExecute_PerEquivalentAndPerEdgeStats(t *testing.T) {
	session := chainSession(t, 1e6)

	var gate sync.Mutex
	exec := New(Options{MaxInFlight: 2}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, session, intentBatch(4, 2.5))
	require.NoError(t, err)

	eq := res.PerEquivalent["UAH"]
	require.NotNil(t, eq)
	assert.Equal(t, 4, eq.Committed)
	assert.InDelta(t, 10, eq.Volume, 1e-9)
	assert.InDelta(t, 2, eq.AvgRouteLength(), 1e-9) // a -> b -> c is two hops

	key := domain.DebtKey{Debtor: "a", Creditor: "c", Equivalent: "UAH"}
	assert.InDelta(t, 10, res.PerEdge[key], 1e-9)
}

func TestExecute_EmptyBatch(t *testing.T) {
	var gate sync.Mutex
	exec := New(Options{MaxInFlight: 4}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Attempts)
}

// timeoutSession fails every payment with ErrTimeout. All other session
// methods are inherited no-ops.
type timeoutSession struct {
	stubSession
}

func (s *timeoutSession) AttemptPayment(_ context.Context, _ ledger.PaymentRequest) (*ledger.PaymentResult, error) {
	return nil, ledger.ErrTimeout
}

func (s *timeoutSession) Sub(_ context.Context, fn func(ledger.Session) error) error {
	return fn(s)
}

func TestExecute_AbortsAtTimeoutCeiling(t *testing.T) {
	var gate sync.Mutex
	exec := New(Options{MaxInFlight: 1, MaxTimeouts: 3}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, &timeoutSession{}, intentBatch(10, 1))
	require.ErrorIs(t, err, ErrTooManyTimeouts)

	assert.GreaterOrEqual(t, res.Timeouts, 3)
	assert.Less(t, res.Attempts, 10)
}

func TestExecute_TimeoutsBelowCeilingDoNotAbort(t *testing.T) {
	var gate sync.Mutex
	exec := New(Options{MaxInFlight: 1, MaxTimeouts: 0}, &gate)

	res, err := exec.Execute(context.Background(), "run-1", 0, &timeoutSession{}, intentBatch(4, 1))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Timeouts)
}

// stubSession is a no-op ledger.Session base for test doubles.
type stubSession struct{}

func (stubSession) EnsureParticipant(context.Context, string) error          { return nil }
func (stubSession) EnsureTrustEdge(context.Context, *domain.TrustEdge) error { return nil }
func (stubSession) SetTrustLimit(context.Context, domain.EdgeKey, float64) error {
	return nil
}
func (stubSession) SetEdgeStatus(context.Context, domain.EdgeKey, domain.EdgeStatus) error {
	return nil
}
func (stubSession) SeedDebt(context.Context, *domain.Debt) error   { return nil }
func (stubSession) InjectDebt(context.Context, *domain.Debt) error { return nil }
func (stubSession) Snapshot(context.Context) (*domain.DebtSnapshot, error) {
	return domain.NewDebtSnapshot(), nil
}
func (stubSession) AttemptPayment(context.Context, ledger.PaymentRequest) (*ledger.PaymentResult, error) {
	return nil, nil
}
func (stubSession) SettleCycle(context.Context, []ledger.CycleEdge) error { return nil }
func (stubSession) Sub(_ context.Context, fn func(ledger.Session) error) error {
	return nil
}
func (stubSession) Commit(context.Context) error   { return nil }
func (stubSession) Rollback(context.Context) error { return nil }
