package planner

import (
	"math/rand"
	"sort"

	"creditnet-lab/internal/domain"
)

// Reachability bounds for receiver selection.
const (
	maxReachDepth    = 3
	maxReachFrontier = 200
)

// chooseReceiver picks the payment receiver for an accepted candidate.
// Preference order: a flow-chain target group when the affinity roll
// succeeds, then a weighted-random recipient group, then any reachable
// node, then the direct neighbor as a last resort.
func (p *Planner) chooseReceiver(tickSeed uint64, it int, cand candidate, profile *domain.BehaviorProfile) string {
	reachable := p.reachableFrom(cand.Sender, cand.Equivalent)

	// (a) explicit directed group flow
	if len(profile.Flows) > 0 {
		flowRng := rngFor(tickSeed, "flow", it)
		for _, flow := range profile.Flows {
			if flow.Affinity <= 0 {
				continue
			}
			if flowRng.Float64() >= flow.Affinity {
				continue
			}
			if id := pickFromGroup(flowRng, reachable, p.mirror.ParticipantsInGroup(flow.TargetGroup), cand.Sender); id != "" {
				return id
			}
		}
	}

	// (b) weighted recipient group
	if len(profile.RecipientGroupWeights) > 0 {
		groupRng := rngFor(tickSeed, "group", it)
		if group := weightedGroup(groupRng, profile.RecipientGroupWeights); group != "" {
			if id := pickFromGroup(groupRng, reachable, p.mirror.ParticipantsInGroup(group), cand.Sender); id != "" {
				return id
			}
		}
	}

	// (c) any reachable node
	if len(reachable) > 0 {
		ids := sortedKeys(reachable)
		pick := rngFor(tickSeed, "receiver", it).Intn(len(ids))
		if ids[pick] != cand.Sender {
			return ids[pick]
		}
	}

	// Fallback: the direct trust neighbor the candidate edge names.
	return cand.Receiver
}

// reachableFrom runs a bounded BFS over the equivalent's payment graph:
// depth ≤ maxReachDepth, frontier capped at maxReachFrontier nodes.
func (p *Planner) reachableFrom(sender, equivalent string) map[string]struct{} {
	graph := p.mirror.Cache().Get(equivalent)
	reachable := make(map[string]struct{})
	visited := map[string]struct{}{sender: {}}
	frontier := []string{sender}

	for depth := 0; depth < maxReachDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, neighbor := range graph.Out[id] {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}
				reachable[neighbor] = struct{}{}
				next = append(next, neighbor)
				if len(next) >= maxReachFrontier {
					break
				}
			}
			if len(next) >= maxReachFrontier {
				break
			}
		}
		frontier = next
	}
	return reachable
}

// pickFromGroup selects a reachable member of the group, deterministically
// by the supplied generator. Returns "" when none is reachable.
func pickFromGroup(rng *rand.Rand, reachable map[string]struct{}, members []string, sender string) string {
	var eligible []string
	for _, id := range members {
		if id == sender {
			continue
		}
		if _, ok := reachable[id]; ok {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return ""
	}
	return eligible[rng.Intn(len(eligible))]
}

// weightedGroup draws a group name proportionally to its weight.
func weightedGroup(rng *rand.Rand, weights map[string]float64) string {
	groups := make([]string, 0, len(weights))
	var total float64
	for g, w := range weights {
		if w > 0 {
			groups = append(groups, g)
			total += w
		}
	}
	if total <= 0 {
		return ""
	}
	sort.Strings(groups)

	roll := rng.Float64() * total
	for _, g := range groups {
		roll -= weights[g]
		if roll < 0 {
			return g
		}
	}
	return groups[len(groups)-1]
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
