package clickhouse

import (
	"context"
	"fmt"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// BottleneckStore implements storage.BottleneckStore using ClickHouse.
type BottleneckStore struct {
	conn *Conn
}

// NewBottleneckStore creates a new BottleneckStore.
func NewBottleneckStore(conn *Conn) *BottleneckStore {
	return &BottleneckStore{conn: conn}
}

var _ storage.BottleneckStore = (*BottleneckStore)(nil)

// InsertBulk writes a batch of bottleneck rows.
func (s *BottleneckStore) InsertBulk(ctx context.Context, rows []*domain.EdgeBottleneck) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO edge_bottlenecks (run_id, tick, equivalent, creditor, debtor, limit_amount, debt_amount, utilization)
	`)
	if err != nil {
		return fmt.Errorf("prepare bottleneck batch: %w", err)
	}

	for _, row := range rows {
		if row == nil || row.RunID == "" {
			return storage.ErrInvalidInput
		}
		if err := batch.Append(row.RunID, row.Tick, row.Equivalent, row.Creditor, row.Debtor,
			row.Limit, row.Debt, row.Utilization); err != nil {
			return fmt.Errorf("append bottleneck row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send bottleneck batch: %w", err)
	}
	return nil
}

// GetByRun retrieves all rows for a run ordered by (tick ASC, utilization DESC).
func (s *BottleneckStore) GetByRun(ctx context.Context, runID string) ([]*domain.EdgeBottleneck, error) {
	query := `
		SELECT run_id, tick, equivalent, creditor, debtor, limit_amount, debt_amount, utilization
		FROM edge_bottlenecks FINAL
		WHERE run_id = ?
		ORDER BY tick, utilization DESC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query bottlenecks: %w", err)
	}
	defer rows.Close()

	var result []*domain.EdgeBottleneck
	for rows.Next() {
		var b domain.EdgeBottleneck
		if err := rows.Scan(&b.RunID, &b.Tick, &b.Equivalent, &b.Creditor, &b.Debtor,
			&b.Limit, &b.Debt, &b.Utilization); err != nil {
			return nil, fmt.Errorf("scan bottleneck row: %w", err)
		}
		result = append(result, &b)
	}
	return result, rows.Err()
}
