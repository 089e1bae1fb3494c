package scenario

import (
	"sort"
	"sync"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/routecache"
)

// Notifier receives the topology patch for every mirror mutation. The
// mirror never invokes it with an empty patch.
type Notifier func(patch *domain.TopologyPatch)

// Mirror is the run's single owned copy of the scenario document. Injects
// and trust drift patch it in place through accessors that also invalidate
// the route cache and notify observers; no component holds an ambient
// reference to the underlying document.
type Mirror struct {
	mu     sync.RWMutex
	sc     *domain.Scenario
	cache  *routecache.Cache
	notify Notifier
}

// NewMirror wraps a scenario document. The caller must not retain or
// mutate the document afterwards.
func NewMirror(sc *domain.Scenario, notify Notifier) *Mirror {
	m := &Mirror{sc: sc, notify: notify}
	m.cache = routecache.New(func(equivalent string) *routecache.Graph {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return routecache.BuildGraph(m.sc, equivalent)
	})
	return m
}

// Cache exposes the route cache for planner reads.
func (m *Mirror) Cache() *routecache.Cache {
	return m.cache
}

// Settings returns the immutable run settings.
func (m *Mirror) Settings() domain.ScenarioSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sc.Settings
}

// ScenarioID returns the scenario identifier.
func (m *Mirror) ScenarioID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sc.ScenarioID
}

// Equivalents returns the scenario's equivalents in declaration order.
func (m *Mirror) Equivalents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sc.Equivalents...)
}

// Participant returns a copy of the participant, or nil.
func (m *Mirror) Participant(id string) *domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.sc.Participant(id)
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Profile returns a copy of the named behavior profile, or nil.
func (m *Mirror) Profile(name string) *domain.BehaviorProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.sc.Profile(name)
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// ParticipantsInGroup returns the IDs of all non-frozen members of a group,
// sorted for deterministic iteration.
func (m *Mirror) ParticipantsInGroup(group string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, p := range m.sc.Participants {
		if p.Group == group && !p.Frozen {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ActiveEdges returns copies of the active trust edges for an equivalent,
// in a deterministic order.
func (m *Mirror) ActiveEdges(equivalent string) []*domain.TrustEdge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var edges []*domain.TrustEdge
	for _, e := range m.sc.TrustEdges {
		if e.Equivalent == equivalent && e.Active() {
			cp := *e
			edges = append(edges, &cp)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Creditor != edges[j].Creditor {
			return edges[i].Creditor < edges[j].Creditor
		}
		return edges[i].Debtor < edges[j].Debtor
	})
	return edges
}

// AllEdges returns copies of every trust edge regardless of status.
func (m *Mirror) AllEdges() []*domain.TrustEdge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edges := make([]*domain.TrustEdge, 0, len(m.sc.TrustEdges))
	for _, e := range m.sc.TrustEdges {
		cp := *e
		edges = append(edges, &cp)
	}
	return edges
}

// Edge returns a copy of the edge with the given key, or nil.
func (m *Mirror) Edge(key domain.EdgeKey) *domain.TrustEdge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.sc.TrustEdges {
		if e.Key() == key {
			cp := *e
			return &cp
		}
	}
	return nil
}

// Timeline yields the run-local timeline events for in-place Fired marking.
// Events are owned by the mirror; callers only flip Fired through FireEvent.
func (m *Mirror) Timeline() []*domain.TimelineEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.TimelineEvent(nil), m.sc.Timeline...)
}

// FireEvent marks a one-shot timeline event as applied.
func (m *Mirror) FireEvent(ev *domain.TimelineEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.Fired = true
}

// StressMultiplier resolves the combined stress multiplier for a sender at
// the given simulated time.
func (m *Mirror) StressMultiplier(sender *domain.Participant, simMs int64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return StressMultiplier(m.sc, sender, simMs)
}

// Export returns a deep copy of the current scenario document, including
// all inject- and drift-applied patches, suitable for persistence.
func (m *Mirror) Export() *domain.Scenario {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.sc
	cp.Equivalents = append([]string(nil), m.sc.Equivalents...)
	cp.Participants = make([]*domain.Participant, len(m.sc.Participants))
	for i, p := range m.sc.Participants {
		v := *p
		cp.Participants[i] = &v
	}
	cp.TrustEdges = make([]*domain.TrustEdge, len(m.sc.TrustEdges))
	for i, e := range m.sc.TrustEdges {
		v := *e
		cp.TrustEdges[i] = &v
	}
	cp.SeedDebts = make([]*domain.Debt, len(m.sc.SeedDebts))
	for i, d := range m.sc.SeedDebts {
		v := *d
		cp.SeedDebts[i] = &v
	}
	cp.Profiles = append([]*domain.BehaviorProfile(nil), m.sc.Profiles...)
	cp.Timeline = append([]*domain.TimelineEvent(nil), m.sc.Timeline...)
	return &cp
}

// Participants returns copies of all participants.
func (m *Mirror) Participants() []*domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Participant, 0, len(m.sc.Participants))
	for _, p := range m.sc.Participants {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// SeedDebts returns the scenario's initial debts.
func (m *Mirror) SeedDebts() []*domain.Debt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.Debt(nil), m.sc.SeedDebts...)
}

// SetEdgeLimit patches one edge's limit, invalidates the equivalent's route
// cache and notifies observers with the single-edge patch. currentDebt is
// included in the patch for visualization.
func (m *Mirror) SetEdgeLimit(key domain.EdgeKey, limit, currentDebt float64) bool {
	m.mu.Lock()
	var patched *domain.TrustEdge
	for _, e := range m.sc.TrustEdges {
		if e.Key() == key {
			e.Limit = limit
			patched = e
			break
		}
	}
	m.mu.Unlock()
	if patched == nil {
		return false
	}
	m.cache.Invalidate(key.Equivalent)
	m.notifyEdges([]domain.EdgePatch{{
		Creditor:   key.Creditor,
		Debtor:     key.Debtor,
		Equivalent: key.Equivalent,
		Limit:      limit,
		Debt:       currentDebt,
		Status:     string(patched.Status),
	}})
	return true
}

// AddParticipant appends a participant if absent. Idempotent.
func (m *Mirror) AddParticipant(p *domain.Participant) bool {
	m.mu.Lock()
	if m.sc.Participant(p.ID) != nil {
		m.mu.Unlock()
		return false
	}
	cp := *p
	m.sc.Participants = append(m.sc.Participants, &cp)
	m.mu.Unlock()
	if m.notify != nil {
		m.notify(&domain.TopologyPatch{
			Nodes: []domain.NodePatch{{ID: p.ID, Group: p.Group, Frozen: p.Frozen}},
		})
	}
	return true
}

// AddEdge appends a trust edge if absent, invalidating the route cache for
// its equivalent. Idempotent.
func (m *Mirror) AddEdge(e *domain.TrustEdge) bool {
	m.mu.Lock()
	key := e.Key()
	for _, existing := range m.sc.TrustEdges {
		if existing.Key() == key {
			m.mu.Unlock()
			return false
		}
	}
	cp := *e
	if cp.Status == "" {
		cp.Status = domain.EdgeStatusActive
	}
	m.sc.TrustEdges = append(m.sc.TrustEdges, &cp)
	m.mu.Unlock()
	m.cache.Invalidate(key.Equivalent)
	m.notifyEdges([]domain.EdgePatch{{
		Creditor:   cp.Creditor,
		Debtor:     cp.Debtor,
		Equivalent: cp.Equivalent,
		Limit:      cp.Limit,
		Status:     string(cp.Status),
	}})
	return true
}

// FreezeParticipant marks a participant frozen and freezes its edges,
// invalidating affected equivalents. Idempotent.
func (m *Mirror) FreezeParticipant(id string) bool {
	m.mu.Lock()
	p := m.sc.Participant(id)
	if p == nil || p.Frozen {
		m.mu.Unlock()
		return false
	}
	p.Frozen = true
	var edgePatches []domain.EdgePatch
	touched := make(map[string]struct{})
	for _, e := range m.sc.TrustEdges {
		if (e.Creditor == id || e.Debtor == id) && e.Active() {
			e.Status = domain.EdgeStatusFrozen
			touched[e.Equivalent] = struct{}{}
			edgePatches = append(edgePatches, domain.EdgePatch{
				Creditor:   e.Creditor,
				Debtor:     e.Debtor,
				Equivalent: e.Equivalent,
				Limit:      e.Limit,
				Status:     string(e.Status),
			})
		}
	}
	node := domain.NodePatch{ID: id, Group: p.Group, Frozen: true}
	m.mu.Unlock()
	for eq := range touched {
		m.cache.Invalidate(eq)
	}
	if m.notify != nil {
		m.notify(&domain.TopologyPatch{Nodes: []domain.NodePatch{node}, Edges: edgePatches})
	}
	return true
}

func (m *Mirror) notifyEdges(patches []domain.EdgePatch) {
	if m.notify == nil || len(patches) == 0 {
		return
	}
	m.notify(&domain.TopologyPatch{Edges: patches})
}
