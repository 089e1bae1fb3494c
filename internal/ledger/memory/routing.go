package memory

import (
	"context"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/ledger"
)

// maxRouteHops bounds BFS path length during payment routing.
const maxRouteHops = 6

// AttemptPayment routes the payment sender → receiver through the trust
// graph and commits debt along every hop. A payment from X to Y raises the
// debt X owes Y; hop capacity is the Y→X trust limit minus that debt.
func (s *session) AttemptPayment(ctx context.Context, req ledger.PaymentRequest) (*ledger.PaymentResult, error) {
	if s.closed {
		return nil, ledger.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return nil, ledger.ErrTimeout
		}
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ledger.Reject(ledger.RejectInvalidAmount, "amount %.2f", req.Amount)
	}
	if !s.hasParticipant(req.Sender) {
		return nil, ledger.Reject(ledger.RejectSenderNotFound, "%s", req.Sender)
	}
	if !s.hasParticipant(req.Receiver) {
		return nil, ledger.Reject(ledger.RejectReceiverNotFound, "%s", req.Receiver)
	}

	// Idempotent replay: a key we already committed returns its route.
	if route, ok := s.seenKey(req.IdempotencyKey); ok && req.IdempotencyKey != "" {
		return &ledger.PaymentResult{Route: route}, nil
	}

	edges := s.allEdges()

	route := s.findRoute(edges, req, routeModeCapacity)
	if route == nil {
		// Classify the failure deterministically from weaker graphs.
		if s.findRoute(edges, req, routeModeActive) != nil {
			return nil, ledger.Reject(ledger.RejectNoCapacity,
				"no path with capacity %.2f from %s to %s", req.Amount, req.Sender, req.Receiver)
		}
		if s.findRoute(edges, req, routeModeAny) != nil {
			return nil, ledger.Reject(ledger.RejectNotActive,
				"all paths from %s to %s blocked by non-active edges", req.Sender, req.Receiver)
		}
		return nil, ledger.Reject(ledger.RejectNoRoute,
			"no trust path from %s to %s in %s", req.Sender, req.Receiver, req.Equivalent)
	}

	// Commit debt along the route.
	for i := 0; i+1 < len(route); i++ {
		key := domain.DebtKey{Debtor: route[i], Creditor: route[i+1], Equivalent: req.Equivalent}
		s.top().debts[key] = s.debt(key) + req.Amount
	}
	if req.IdempotencyKey != "" {
		s.top().seenKeys[req.IdempotencyKey] = route
	}
	return &ledger.PaymentResult{Route: route}, nil
}

type routeMode int

const (
	routeModeCapacity routeMode = iota // active edges with available capacity
	routeModeActive                    // active edges, capacity ignored
	routeModeAny                       // any edge regardless of status
)

// findRoute runs a bounded BFS from sender to receiver. Neighbors expand in
// sorted order so routing is deterministic for a fixed ledger state.
func (s *session) findRoute(edges map[domain.EdgeKey]domain.TrustEdge, req ledger.PaymentRequest, mode routeMode) []string {
	// hop X→Y usable iff trust edge (creditor Y, debtor X) passes the mode.
	neighbors := make(map[string]map[string]struct{})
	for key, e := range edges {
		if key.Equivalent != req.Equivalent {
			continue
		}
		switch mode {
		case routeModeCapacity:
			if !e.Active() {
				continue
			}
			debtKey := domain.DebtKey{Debtor: key.Debtor, Creditor: key.Creditor, Equivalent: key.Equivalent}
			if e.Limit-s.debt(debtKey) < req.Amount-amountEpsilon {
				continue
			}
		case routeModeActive:
			if !e.Active() {
				continue
			}
		}
		if neighbors[key.Debtor] == nil {
			neighbors[key.Debtor] = make(map[string]struct{})
		}
		neighbors[key.Debtor][key.Creditor] = struct{}{}
	}

	type node struct {
		id   string
		path []string
	}
	visited := map[string]struct{}{req.Sender: {}}
	queue := []node{{id: req.Sender, path: []string{req.Sender}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) > maxRouteHops {
			continue
		}
		for _, next := range sortedNeighborIDs(neighbors[cur.id]) {
			if _, seen := visited[next]; seen {
				continue
			}
			path := append(append([]string(nil), cur.path...), next)
			if next == req.Receiver {
				return path
			}
			visited[next] = struct{}{}
			queue = append(queue, node{id: next, path: path})
		}
	}
	return nil
}
