package memory

import (
	"context"
	"sort"
	"sync"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// BottleneckStore is an in-memory implementation of storage.BottleneckStore.
type BottleneckStore struct {
	mu   sync.RWMutex
	data map[bottleneckKey]*domain.EdgeBottleneck
}

type bottleneckKey struct {
	runID      string
	tick       int64
	equivalent string
	creditor   string
	debtor     string
}

// NewBottleneckStore creates a new in-memory bottleneck store.
func NewBottleneckStore() *BottleneckStore {
	return &BottleneckStore{data: make(map[bottleneckKey]*domain.EdgeBottleneck)}
}

var _ storage.BottleneckStore = (*BottleneckStore)(nil)

// InsertBulk writes a batch of bottleneck rows, idempotent by natural key.
func (s *BottleneckStore) InsertBulk(_ context.Context, rows []*domain.EdgeBottleneck) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row == nil || row.RunID == "" {
			return storage.ErrInvalidInput
		}
		cp := *row
		s.data[bottleneckKey{row.RunID, row.Tick, row.Equivalent, row.Creditor, row.Debtor}] = &cp
	}
	return nil
}

// GetByRun retrieves all rows for a run ordered by (tick ASC, utilization DESC).
func (s *BottleneckStore) GetByRun(_ context.Context, runID string) ([]*domain.EdgeBottleneck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*domain.EdgeBottleneck
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
		return result[i].Utilization > result[j].Utilization
	})
	return result, nil
}
