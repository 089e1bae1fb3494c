package memory

import (
	"context"
	"sort"
	"sync"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// TickMetricsStore is an in-memory implementation of storage.TickMetricsStore.
type TickMetricsStore struct {
	mu   sync.RWMutex
	data map[metricKey]*domain.TickMetric
}

type metricKey struct {
	runID      string
	tick       int64
	equivalent string
	key        string
}

// NewTickMetricsStore creates a new in-memory tick metrics store.
func NewTickMetricsStore() *TickMetricsStore {
	return &TickMetricsStore{data: make(map[metricKey]*domain.TickMetric)}
}

var _ storage.TickMetricsStore = (*TickMetricsStore)(nil)

// InsertBulk writes a batch of metric rows, idempotent by natural key.
func (s *TickMetricsStore) InsertBulk(_ context.Context, rows []*domain.TickMetric) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row == nil || row.RunID == "" || row.Key == "" {
			return storage.ErrInvalidInput
		}
		cp := *row
		s.data[metricKey{row.RunID, row.Tick, row.Equivalent, row.Key}] = &cp
	}
	return nil
}

// GetByRun retrieves all rows for a run ordered by (tick, equivalent, key).
func (s *TickMetricsStore) GetByRun(_ context.Context, runID string) ([]*domain.TickMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*domain.TickMetric
	for _, row := range s.data {
		if row.RunID == runID {
			cp := *row
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Tick != result[j].Tick {
			return result[i].Tick < result[j].Tick
		}
		if result[i].Equivalent != result[j].Equivalent {
			return result[i].Equivalent < result[j].Equivalent
		}
		return result[i].Key < result[j].Key
	})
	return result, nil
}
