package postgres

import (
	"context"
	"fmt"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

var _ storage.RunStore = (*RunStore)(nil)

// UpsertStatus writes the run's externally visible status.
func (s *RunStore) UpsertStatus(ctx context.Context, status *domain.RunStatus) error {
	if status == nil || status.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO runs (
			run_id, scenario_id, state, tick, sim_ms,
			attempts, committed, rejected, errors, timeouts,
			last_error, stalled_ticks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			tick = EXCLUDED.tick,
			sim_ms = EXCLUDED.sim_ms,
			attempts = EXCLUDED.attempts,
			committed = EXCLUDED.committed,
			rejected = EXCLUDED.rejected,
			errors = EXCLUDED.errors,
			timeouts = EXCLUDED.timeouts,
			last_error = EXCLUDED.last_error,
			stalled_ticks = EXCLUDED.stalled_ticks,
			updated_at = now()
	`
	_, err := s.pool.Exec(ctx, query,
		status.RunID, status.ScenarioID, string(status.State), status.Tick, status.SimMs,
		status.Counters.Attempts, status.Counters.Committed, status.Counters.Rejected,
		status.Counters.Errors, status.Counters.Timeouts,
		status.LastError, status.Stalled,
	)
	if err != nil {
		return fmt.Errorf("upsert run status: %w", err)
	}
	return nil
}

// GetStatus retrieves the latest status. Returns ErrNotFound if not exists.
func (s *RunStore) GetStatus(ctx context.Context, runID string) (*domain.RunStatus, error) {
	query := `
		SELECT run_id, scenario_id, state, tick, sim_ms,
		       attempts, committed, rejected, errors, timeouts,
		       last_error, stalled_ticks
		FROM runs WHERE run_id = $1
	`

	var status domain.RunStatus
	var state string
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&status.RunID, &status.ScenarioID, &state, &status.Tick, &status.SimMs,
		&status.Counters.Attempts, &status.Counters.Committed, &status.Counters.Rejected,
		&status.Counters.Errors, &status.Counters.Timeouts,
		&status.LastError, &status.Stalled,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run status: %w", err)
	}
	status.State = domain.RunState(state)
	return &status, nil
}
