package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// ScenarioStore is an in-memory implementation of storage.ScenarioStore.
type ScenarioStore struct {
	mu   sync.RWMutex
	data map[string][]byte // scenario_id -> encoded document
}

// NewScenarioStore creates a new in-memory scenario store.
func NewScenarioStore() *ScenarioStore {
	return &ScenarioStore{data: make(map[string][]byte)}
}

var _ storage.ScenarioStore = (*ScenarioStore)(nil)

// Insert adds a new scenario. Returns ErrDuplicateKey if scenario_id exists.
func (s *ScenarioStore) Insert(_ context.Context, sc *domain.Scenario) error {
	if sc == nil || sc.ScenarioID == "" {
		return storage.ErrInvalidInput
	}
	encoded, err := json.Marshal(sc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[sc.ScenarioID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[sc.ScenarioID] = encoded
	return nil
}

// GetByID retrieves a scenario by its ID. Returns ErrNotFound if not exists.
func (s *ScenarioStore) GetByID(_ context.Context, scenarioID string) (*domain.Scenario, error) {
	s.mu.RLock()
	encoded, ok := s.data[scenarioID]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	var sc domain.Scenario
	if err := json.Unmarshal(encoded, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Save upserts the full document.
func (s *ScenarioStore) Save(_ context.Context, sc *domain.Scenario) error {
	if sc == nil || sc.ScenarioID == "" {
		return storage.ErrInvalidInput
	}
	encoded, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sc.ScenarioID] = encoded
	return nil
}

// List returns all stored scenario IDs, sorted.
func (s *ScenarioStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
