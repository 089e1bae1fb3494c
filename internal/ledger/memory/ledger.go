// Package memory provides the reference in-memory implementation of the
// ledger service: a trust graph with multi-hop BFS routing, overlay-based
// transactional sessions and atomic cycle settlement. Used by tests and by
// -memory mode in the commands.
package memory

import (
	"context"
	"sort"
	"sync"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/ledger"
)

// amountEpsilon absorbs float drift in capacity and settlement checks.
const amountEpsilon = 1e-9

// Ledger is the shared committed state. Sessions buffer writes in overlays
// and publish them on Commit under the ledger lock.
type Ledger struct {
	mu           sync.Mutex
	participants map[string]struct{}
	edges        map[domain.EdgeKey]domain.TrustEdge
	debts        map[domain.DebtKey]float64
	seenKeys     map[string][]string // idempotency key -> committed route
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		participants: make(map[string]struct{}),
		edges:        make(map[domain.EdgeKey]domain.TrustEdge),
		debts:        make(map[domain.DebtKey]float64),
		seenKeys:     make(map[string][]string),
	}
}

// OpenSession begins a transactional scope over the current committed state.
func (l *Ledger) OpenSession(_ context.Context) (ledger.Session, error) {
	s := &session{ledger: l}
	s.frames = append(s.frames, newFrame())
	return s, nil
}

var _ ledger.Service = (*Ledger)(nil)

// frame is one overlay level: the base session plus one per open
// sub-transaction.
type frame struct {
	participants map[string]struct{}
	edges        map[domain.EdgeKey]domain.TrustEdge
	debts        map[domain.DebtKey]float64
	seenKeys     map[string][]string
}

func newFrame() *frame {
	return &frame{
		participants: make(map[string]struct{}),
		edges:        make(map[domain.EdgeKey]domain.TrustEdge),
		debts:        make(map[domain.DebtKey]float64),
		seenKeys:     make(map[string][]string),
	}
}

// mergeInto folds this frame into the parent overlay.
func (f *frame) mergeInto(parent *frame) {
	for id := range f.participants {
		parent.participants[id] = struct{}{}
	}
	for k, v := range f.edges {
		parent.edges[k] = v
	}
	for k, v := range f.debts {
		parent.debts[k] = v
	}
	for k, v := range f.seenKeys {
		parent.seenKeys[k] = v
	}
}

// session implements ledger.Session. Not safe for concurrent use; callers
// hold the session gate around ledger calls.
type session struct {
	ledger *Ledger
	frames []*frame
	closed bool
}

var _ ledger.Session = (*session)(nil)

func (s *session) top() *frame {
	return s.frames[len(s.frames)-1]
}

// hasParticipant reads through overlays down to committed state.
func (s *session) hasParticipant(id string) bool {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if _, ok := s.frames[i].participants[id]; ok {
			return true
		}
	}
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	_, ok := s.ledger.participants[id]
	return ok
}

func (s *session) edge(key domain.EdgeKey) (domain.TrustEdge, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if e, ok := s.frames[i].edges[key]; ok {
			return e, true
		}
	}
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	e, ok := s.ledger.edges[key]
	return e, ok
}

func (s *session) debt(key domain.DebtKey) float64 {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i].debts[key]; ok {
			return v
		}
	}
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	return s.ledger.debts[key]
}

func (s *session) seenKey(key string) ([]string, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if r, ok := s.frames[i].seenKeys[key]; ok {
			return r, true
		}
	}
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	r, ok := s.ledger.seenKeys[key]
	return r, ok
}

// allEdges returns the merged edge view, overlays winning over base.
func (s *session) allEdges() map[domain.EdgeKey]domain.TrustEdge {
	merged := make(map[domain.EdgeKey]domain.TrustEdge)
	s.ledger.mu.Lock()
	for k, v := range s.ledger.edges {
		merged[k] = v
	}
	s.ledger.mu.Unlock()
	for _, f := range s.frames {
		for k, v := range f.edges {
			merged[k] = v
		}
	}
	return merged
}

// allDebts returns the merged debt view.
func (s *session) allDebts() map[domain.DebtKey]float64 {
	merged := make(map[domain.DebtKey]float64)
	s.ledger.mu.Lock()
	for k, v := range s.ledger.debts {
		merged[k] = v
	}
	s.ledger.mu.Unlock()
	for _, f := range s.frames {
		for k, v := range f.debts {
			merged[k] = v
		}
	}
	return merged
}

func (s *session) EnsureParticipant(_ context.Context, id string) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	if id == "" {
		return ledger.Reject(ledger.RejectInvalidAmount, "empty participant id")
	}
	if !s.hasParticipant(id) {
		s.top().participants[id] = struct{}{}
	}
	return nil
}

func (s *session) EnsureTrustEdge(_ context.Context, edge *domain.TrustEdge) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	key := edge.Key()
	if _, exists := s.edge(key); exists {
		return nil
	}
	s.top().participants[edge.Creditor] = struct{}{}
	s.top().participants[edge.Debtor] = struct{}{}
	s.top().edges[key] = *edge
	return nil
}

func (s *session) SetTrustLimit(_ context.Context, key domain.EdgeKey, limit float64) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	e, ok := s.edge(key)
	if !ok {
		return ledger.ErrEdgeNotFound
	}
	e.Limit = limit
	s.top().edges[key] = e
	return nil
}

func (s *session) SetEdgeStatus(_ context.Context, key domain.EdgeKey, status domain.EdgeStatus) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	e, ok := s.edge(key)
	if !ok {
		return ledger.ErrEdgeNotFound
	}
	e.Status = status
	s.top().edges[key] = e
	return nil
}

func (s *session) SeedDebt(_ context.Context, debt *domain.Debt) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	key := domain.DebtKey{Debtor: debt.Debtor, Creditor: debt.Creditor, Equivalent: debt.Equivalent}
	if s.debt(key) > 0 {
		return nil // already seeded
	}
	s.top().debts[key] = debt.Amount
	return nil
}

func (s *session) InjectDebt(_ context.Context, debt *domain.Debt) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	if debt.Amount <= 0 {
		return ledger.Reject(ledger.RejectInvalidAmount, "inject amount must be positive")
	}
	edgeKey := domain.EdgeKey{Creditor: debt.Creditor, Debtor: debt.Debtor, Equivalent: debt.Equivalent}
	e, ok := s.edge(edgeKey)
	if !ok {
		return ledger.ErrEdgeNotFound
	}
	if !e.Active() {
		return ledger.Reject(ledger.RejectNotActive, "edge %s->%s is %s", debt.Creditor, debt.Debtor, e.Status)
	}
	key := domain.DebtKey{Debtor: debt.Debtor, Creditor: debt.Creditor, Equivalent: debt.Equivalent}
	current := s.debt(key)
	if current+debt.Amount > e.Limit+amountEpsilon {
		return ledger.Reject(ledger.RejectLimitExceeded,
			"debt %.2f + %.2f exceeds limit %.2f", current, debt.Amount, e.Limit)
	}
	s.top().debts[key] = current + debt.Amount
	return nil
}

func (s *session) Snapshot(_ context.Context) (*domain.DebtSnapshot, error) {
	if s.closed {
		return nil, ledger.ErrSessionClosed
	}
	snap := domain.NewDebtSnapshot()
	for k, v := range s.allDebts() {
		if v > amountEpsilon {
			snap.Debts[k] = v
		}
	}
	return snap, nil
}

func (s *session) SettleCycle(_ context.Context, cycle []ledger.CycleEdge) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	if len(cycle) < 2 {
		return ledger.Reject(ledger.RejectInvalidAmount, "cycle needs at least 2 edges")
	}
	// Validate first: no partial effect on failure.
	for _, e := range cycle {
		key := domain.DebtKey{Debtor: e.Debtor, Creditor: e.Creditor, Equivalent: e.Equivalent}
		if s.debt(key)+amountEpsilon < e.Amount {
			return ledger.Reject(ledger.RejectNoCapacity,
				"debt %s->%s %.2f below clear amount %.2f", e.Debtor, e.Creditor, s.debt(key), e.Amount)
		}
	}
	for _, e := range cycle {
		key := domain.DebtKey{Debtor: e.Debtor, Creditor: e.Creditor, Equivalent: e.Equivalent}
		remaining := s.debt(key) - e.Amount
		if remaining < amountEpsilon {
			remaining = 0
		}
		s.top().debts[key] = remaining
	}
	return nil
}

func (s *session) Sub(ctx context.Context, fn func(ledger.Session) error) error {
	if s.closed {
		return ledger.ErrSessionClosed
	}
	s.frames = append(s.frames, newFrame())
	err := fn(s)
	child := s.top()
	s.frames = s.frames[:len(s.frames)-1]
	if err != nil {
		return err // child overlay discarded
	}
	child.mergeInto(s.top())
	return nil
}

func (s *session) Commit(_ context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	for _, f := range s.frames {
		for id := range f.participants {
			s.ledger.participants[id] = struct{}{}
		}
		for k, v := range f.edges {
			s.ledger.edges[k] = v
		}
		for k, v := range f.debts {
			s.ledger.debts[k] = v
		}
		for k, v := range f.seenKeys {
			s.ledger.seenKeys[k] = v
		}
	}
	return nil
}

func (s *session) Rollback(_ context.Context) error {
	s.closed = true
	s.frames = []*frame{newFrame()}
	return nil
}

// sortedNeighborIDs keeps BFS expansion deterministic.
func sortedNeighborIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
