package clearing

import (
	"math/rand"
	"sort"
	"strings"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/ledger"
)

// maxCandidates bounds how many distinct cycles one search collects.
const maxCandidates = 32

// cycle is a closed chain of debts: nodes[i] owes nodes[i+1], and the
// last node owes the first. amounts[i] is the debt on hop i.
type cycle struct {
	nodes   []string
	amounts []float64
}

func (c *cycle) minAmount() float64 {
	min := c.amounts[0]
	for _, a := range c.amounts[1:] {
		if a < min {
			min = a
		}
	}
	return domain.Trunc2(min)
}

func (c *cycle) edges(equivalent string, amount float64) []ledger.CycleEdge {
	out := make([]ledger.CycleEdge, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = ledger.CycleEdge{
			Debtor:     n,
			Creditor:   c.nodes[(i+1)%len(c.nodes)],
			Equivalent: equivalent,
			Amount:     amount,
		}
	}
	return out
}

// key is the canonical identity of the cycle: rotated so the smallest
// node leads, hops joined.
func (c *cycle) key() string {
	smallest := 0
	for i, n := range c.nodes {
		if n < c.nodes[smallest] {
			smallest = i
		}
	}
	rotated := make([]string, len(c.nodes))
	for i := range c.nodes {
		rotated[i] = c.nodes[(smallest+i)%len(c.nodes)]
	}
	return strings.Join(rotated, ">")
}

// findCycles collects candidate debt cycles up to maxDepth hops from the
// snapshot, canonicalized and sorted so repeated searches over the same
// debts yield the same candidate list.
func findCycles(snap *domain.DebtSnapshot, equivalent string, maxDepth int) []*cycle {
	adj := make(map[string]map[string]float64)
	for k, amt := range snap.Debts {
		if k.Equivalent != equivalent || amt < minSettleAmount {
			continue
		}
		m, ok := adj[k.Debtor]
		if !ok {
			m = make(map[string]float64)
			adj[k.Debtor] = m
		}
		m[k.Creditor] = amt
	}

	starts := make([]string, 0, len(adj))
	for n := range adj {
		starts = append(starts, n)
	}
	sort.Strings(starts)

	seen := make(map[string]struct{})
	var found []*cycle
	for _, start := range starts {
		if len(found) >= maxCandidates {
			break
		}
		path := []string{start}
		amounts := []float64{}
		onPath := map[string]bool{start: true}
		dfs(adj, start, start, maxDepth, &path, &amounts, onPath, seen, &found)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].key() < found[j].key() })
	return found
}

// dfs extends the path debtor by debtor. Creditors smaller than the start
// node are skipped so each cycle is discovered from its smallest member
// only.
func dfs(adj map[string]map[string]float64, start, at string, depthLeft int, path *[]string, amounts *[]float64, onPath map[string]bool, seen map[string]struct{}, found *[]*cycle) {
	if len(*found) >= maxCandidates || depthLeft == 0 {
		return
	}
	creditors := make([]string, 0, len(adj[at]))
	for c := range adj[at] {
		creditors = append(creditors, c)
	}
	sort.Strings(creditors)

	for _, next := range creditors {
		amt := adj[at][next]
		if next == start && len(*path) >= 2 {
			c := &cycle{
				nodes:   append([]string(nil), *path...),
				amounts: append(append([]float64(nil), *amounts...), amt),
			}
			if _, dup := seen[c.key()]; !dup {
				seen[c.key()] = struct{}{}
				*found = append(*found, c)
			}
			continue
		}
		if next < start || onPath[next] {
			continue
		}
		*path = append(*path, next)
		*amounts = append(*amounts, amt)
		onPath[next] = true
		dfs(adj, start, next, depthLeft-1, path, amounts, onPath, seen, found)
		onPath[next] = false
		*path = (*path)[:len(*path)-1]
		*amounts = (*amounts)[:len(*amounts)-1]
	}
}

// chooseCycle deterministically prioritizes one candidate. The rng is
// seeded from (run id, tick, equivalent), so the executed cycle always
// matches the one shown to observers.
func chooseCycle(candidates []*cycle, rng *rand.Rand) *cycle {
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	default:
		return candidates[rng.Intn(len(candidates))]
	}
}
