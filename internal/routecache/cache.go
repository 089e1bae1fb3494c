// Package routecache holds per-equivalent adjacency graphs built from the
// scenario's active trust edges. The cache is an explicit service: every
// topology mutation (inject, drift) calls Invalidate for the affected
// equivalent, never an implicit global flush.
package routecache

import (
	"sort"
	"sync"

	"creditnet-lab/internal/domain"
)

// Graph is the payment-direction adjacency for one equivalent: edges are
// debtor → creditor (payments flow opposite the credit direction).
type Graph struct {
	// Out maps sender (debtor) to its directly payable receivers.
	Out map[string][]string
	// Edges maps (debtor, creditor) to the trust edge governing that hop.
	Edges map[domain.DebtKey]*domain.TrustEdge
}

// Builder produces a fresh graph for an equivalent on cache miss.
type Builder func(equivalent string) *Graph

// Cache lazily builds and memoizes per-equivalent graphs.
type Cache struct {
	mu      sync.Mutex
	builder Builder
	graphs  map[string]*Graph
}

// New creates a cache with the given builder.
func New(builder Builder) *Cache {
	return &Cache{
		builder: builder,
		graphs:  make(map[string]*Graph),
	}
}

// Get returns the graph for the equivalent, building it if needed.
func (c *Cache) Get(equivalent string) *Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.graphs[equivalent]; ok {
		return g
	}
	g := c.builder(equivalent)
	c.graphs[equivalent] = g
	return g
}

// Invalidate drops the cached graph for one equivalent.
func (c *Cache) Invalidate(equivalent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graphs, equivalent)
}

// InvalidateAll drops every cached graph.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs = make(map[string]*Graph)
}

// BuildGraph constructs the payment-direction adjacency for an equivalent
// from a scenario's active trust edges.
func BuildGraph(sc *domain.Scenario, equivalent string) *Graph {
	g := &Graph{
		Out:   make(map[string][]string),
		Edges: make(map[domain.DebtKey]*domain.TrustEdge),
	}
	for _, e := range sc.TrustEdges {
		if e.Equivalent != equivalent || !e.Active() {
			continue
		}
		// Credit creditor→debtor permits payment debtor→creditor.
		hop := domain.DebtKey{Debtor: e.Debtor, Creditor: e.Creditor, Equivalent: equivalent}
		g.Out[e.Debtor] = append(g.Out[e.Debtor], e.Creditor)
		g.Edges[hop] = e
	}
	// Sorted adjacency keeps every traversal deterministic.
	for _, out := range g.Out {
		sort.Strings(out)
	}
	return g
}
