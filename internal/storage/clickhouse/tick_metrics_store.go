package clickhouse

import (
	"context"
	"fmt"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// TickMetricsStore implements storage.TickMetricsStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by (run_id, tick, equivalent,
// key), so re-writing a row after a tick retry is idempotent.
type TickMetricsStore struct {
	conn *Conn
}

// NewTickMetricsStore creates a new TickMetricsStore.
func NewTickMetricsStore(conn *Conn) *TickMetricsStore {
	return &TickMetricsStore{conn: conn}
}

var _ storage.TickMetricsStore = (*TickMetricsStore)(nil)

// InsertBulk writes a batch of metric rows.
func (s *TickMetricsStore) InsertBulk(ctx context.Context, rows []*domain.TickMetric) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tick_metrics (run_id, tick, sim_ms, equivalent, metric_key, value)
	`)
	if err != nil {
		return fmt.Errorf("prepare tick metrics batch: %w", err)
	}

	for _, row := range rows {
		if row == nil || row.RunID == "" || row.Key == "" {
			return storage.ErrInvalidInput
		}
		if err := batch.Append(row.RunID, row.Tick, row.SimMs, row.Equivalent, row.Key, row.Value); err != nil {
			return fmt.Errorf("append tick metric: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send tick metrics batch: %w", err)
	}
	return nil
}

// GetByRun retrieves all rows for a run ordered by (tick, equivalent, key).
func (s *TickMetricsStore) GetByRun(ctx context.Context, runID string) ([]*domain.TickMetric, error) {
	query := `
		SELECT run_id, tick, sim_ms, equivalent, metric_key, value
		FROM tick_metrics FINAL
		WHERE run_id = ?
		ORDER BY tick, equivalent, metric_key
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query tick metrics: %w", err)
	}
	defer rows.Close()

	var result []*domain.TickMetric
	for rows.Next() {
		var m domain.TickMetric
		if err := rows.Scan(&m.RunID, &m.Tick, &m.SimMs, &m.Equivalent, &m.Key, &m.Value); err != nil {
			return nil, fmt.Errorf("scan tick metric: %w", err)
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}
