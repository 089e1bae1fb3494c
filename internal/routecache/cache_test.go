package routecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditnet-lab/internal/domain"
)

func graphScenario() *domain.Scenario {
	return &domain.Scenario{
		ScenarioID:  "graph",
		Equivalents: []string{"UAH", "EUR"},
		TrustEdges: []*domain.TrustEdge{
			{Creditor: "b", Debtor: "a", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "c", Debtor: "a", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusActive},
			{Creditor: "c", Debtor: "b", Equivalent: "UAH", Limit: 100, Status: domain.EdgeStatusFrozen},
			{Creditor: "a", Debtor: "c", Equivalent: "EUR", Limit: 50, Status: domain.EdgeStatusActive},
		},
	}
}

func TestBuildGraph(t *testing.T) {
	g := BuildGraph(graphScenario(), "UAH")

	// Payments flow debtor to creditor; the frozen hop is excluded.
	assert.Equal(t, []string{"b", "c"}, g.Out["a"])
	assert.Empty(t, g.Out["b"])

	hop := domain.DebtKey{Debtor: "a", Creditor: "b", Equivalent: "UAH"}
	require.Contains(t, g.Edges, hop)
	assert.InDelta(t, 100, g.Edges[hop].Limit, 1e-9)
}

func TestBuildGraph_PerEquivalent(t *testing.T) {
	g := BuildGraph(graphScenario(), "EUR")

	assert.Equal(t, []string{"a"}, g.Out["c"])
	assert.Empty(t, g.Out["a"])
	assert.Len(t, g.Edges, 1)
}

func TestCache_Memoizes(t *testing.T) {
	builds := 0
	c := New(func(eq string) *Graph {
		builds++
		return BuildGraph(graphScenario(), eq)
	})

	first := c.Get("UAH")
	second := c.Get("UAH")
	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)

	c.Get("EUR")
	assert.Equal(t, 2, builds)
}

func TestCache_Invalidate(t *testing.T) {
	builds := 0
	c := New(func(eq string) *Graph {
		builds++
		return BuildGraph(graphScenario(), eq)
	})

	c.Get("UAH")
	c.Get("EUR")
	c.Invalidate("UAH")

	c.Get("EUR") // still cached
	assert.Equal(t, 2, builds)
	c.Get("UAH") // rebuilt
	assert.Equal(t, 3, builds)
}

func TestCache_InvalidateAll(t *testing.T) {
	builds := 0
	c := New(func(eq string) *Graph {
		builds++
		return BuildGraph(graphScenario(), eq)
	})

	c.Get("UAH")
	c.Get("EUR")
	c.InvalidateAll()
	c.Get("UAH")
	c.Get("EUR")
	assert.Equal(t, 4, builds)
}
