package storage

import (
	"context"

	"creditnet-lab/internal/domain"
)

// ScenarioStore provides access to scenario documents.
type ScenarioStore interface {
	// Insert adds a new scenario. Returns ErrDuplicateKey if scenario_id exists.
	Insert(ctx context.Context, sc *domain.Scenario) error

	// GetByID retrieves a scenario by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, scenarioID string) (*domain.Scenario, error)

	// Save upserts the full document. Used by inject- and drift-driven
	// patches so the durable copy tracks the run's in-memory mirror.
	Save(ctx context.Context, sc *domain.Scenario) error

	// List returns all stored scenario IDs.
	List(ctx context.Context) ([]string, error)
}

// RunStore persists run status rows, upsertable by run_id.
type RunStore interface {
	// UpsertStatus writes the run's externally visible status.
	UpsertStatus(ctx context.Context, status *domain.RunStatus) error

	// GetStatus retrieves the latest status. Returns ErrNotFound if not exists.
	GetStatus(ctx context.Context, runID string) (*domain.RunStatus, error)
}

// TickMetricsStore persists per-tick metric rows. Writes are idempotent by
// (run_id, tick, equivalent, key).
type TickMetricsStore interface {
	// InsertBulk writes a batch of metric rows.
	InsertBulk(ctx context.Context, rows []*domain.TickMetric) error

	// GetByRun retrieves all rows for a run ordered by (tick, equivalent, key).
	GetByRun(ctx context.Context, runID string) ([]*domain.TickMetric, error)
}

// BottleneckStore persists periodic top-offending-edge snapshots,
// idempotent by (run_id, tick, equivalent, creditor, debtor).
type BottleneckStore interface {
	// InsertBulk writes a batch of bottleneck rows.
	InsertBulk(ctx context.Context, rows []*domain.EdgeBottleneck) error

	// GetByRun retrieves all rows for a run ordered by (tick ASC, utilization DESC).
	GetByRun(ctx context.Context, runID string) ([]*domain.EdgeBottleneck, error)
}
