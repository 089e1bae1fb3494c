package memory

import (
	"context"
	"sync"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunStatus
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{data: make(map[string]*domain.RunStatus)}
}

var _ storage.RunStore = (*RunStore)(nil)

// UpsertStatus writes the run's externally visible status.
func (s *RunStore) UpsertStatus(_ context.Context, status *domain.RunStatus) error {
	if status == nil || status.RunID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *status
	s.data[status.RunID] = &cp
	return nil
}

// GetStatus retrieves the latest status. Returns ErrNotFound if not exists.
func (s *RunStore) GetStatus(_ context.Context, runID string) (*domain.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.data[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *status
	return &cp, nil
}
