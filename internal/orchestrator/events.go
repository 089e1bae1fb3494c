package orchestrator

import (
	"context"
	"log"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/observability"
)

// publish stamps the event with the run's identity and clock and hands it
// to the hub, which assigns the per-run event ID.
func (o *Orchestrator) publish(rr *runtimeRun, ev *domain.Event) {
	rr.mu.Lock()
	ev.RunID = rr.run.RunID
	ev.Tick = rr.run.Clock.Tick
	ev.SimMs = rr.run.Clock.SimMs
	rr.mu.Unlock()

	if o.hub != nil {
		o.hub.Publish(ev)
		observability.DefaultMetrics.EventsPublished.Inc()
	}
}

func (o *Orchestrator) publishPayment(rr *runtimeRun, pe *domain.PaymentEvent, committed bool) {
	kind := domain.EventPaymentFailed
	outcome := "error"
	switch {
	case committed:
		kind = domain.EventPaymentSucceeded
		outcome = "committed"
	case pe.RejectionCode != "":
		outcome = "rejected"
		observability.RecordRejection(pe.RejectionCode)
	}
	observability.RecordPayment(outcome, pe.Amount)
	o.publish(rr, &domain.Event{Kind: kind, Payment: pe})
}

func (o *Orchestrator) publishTopology(rr *runtimeRun, patch *domain.TopologyPatch) {
	if patch.Empty() {
		return
	}
	o.publish(rr, &domain.Event{Kind: domain.EventTopologyChanged, Topology: patch})
}

func (o *Orchestrator) publishStatus(rr *runtimeRun, status domain.RunStatus) {
	o.publish(rr, &domain.Event{Kind: domain.EventRunStatus, Status: &status})
}

func (o *Orchestrator) publishNote(rr *runtimeRun, note string) {
	o.publish(rr, &domain.Event{Kind: domain.EventNote, Note: note})
}

func (o *Orchestrator) publishClearing(rr *runtimeRun, kind domain.EventKind, ce *domain.ClearingEvent) {
	o.publish(rr, &domain.Event{Kind: kind, Clearing: ce})
}

// persistStatus writes the run status row. Best-effort.
func (o *Orchestrator) persistStatus(ctx context.Context, rr *runtimeRun, status domain.RunStatus) {
	if o.runStore == nil {
		return
	}
	if err := o.runStore.UpsertStatus(ctx, &status); err != nil {
		log.Printf("[orchestrator] WARN run %s: persist status: %v", status.RunID, err)
	}
}

// buildPatch computes the best-effort visualization patch for a committed
// payment: the edges along the route with their post-commit debt estimate.
func (rr *runtimeRun) buildPatch(intent *domain.PaymentIntent, route []string) *domain.TopologyPatch {
	rr.mu.Lock()
	snap := rr.lastSnap
	rr.mu.Unlock()

	var patches []domain.EdgePatch
	for i := 0; i+1 < len(route); i++ {
		key := domain.EdgeKey{Creditor: route[i+1], Debtor: route[i], Equivalent: intent.Equivalent}
		edge := rr.mirror.Edge(key)
		if edge == nil {
			continue
		}
		debt := intent.Amount
		if snap != nil {
			debt += snap.Between(route[i], route[i+1], intent.Equivalent)
		}
		patches = append(patches, domain.EdgePatch{
			Creditor:   key.Creditor,
			Debtor:     key.Debtor,
			Equivalent: key.Equivalent,
			Limit:      edge.Limit,
			Debt:       debt,
			Status:     string(edge.Status),
		})
	}
	if len(patches) == 0 {
		return nil
	}
	return &domain.TopologyPatch{Edges: patches}
}
