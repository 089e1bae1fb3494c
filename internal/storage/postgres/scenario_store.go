package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

// ScenarioStore implements storage.ScenarioStore using PostgreSQL. The
// document is stored as a JSONB column keyed by scenario_id.
type ScenarioStore struct {
	pool *Pool
}

// NewScenarioStore creates a new ScenarioStore.
func NewScenarioStore(pool *Pool) *ScenarioStore {
	return &ScenarioStore{pool: pool}
}

var _ storage.ScenarioStore = (*ScenarioStore)(nil)

// Insert adds a new scenario. Returns ErrDuplicateKey if scenario_id exists.
func (s *ScenarioStore) Insert(ctx context.Context, sc *domain.Scenario) error {
	if sc == nil || sc.ScenarioID == "" {
		return storage.ErrInvalidInput
	}
	doc, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}

	query := `
		INSERT INTO scenarios (scenario_id, name, document)
		VALUES ($1, $2, $3)
	`
	_, err = s.pool.Exec(ctx, query, sc.ScenarioID, sc.Name, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert scenario: %w", err)
	}
	return nil
}

// GetByID retrieves a scenario by its ID. Returns ErrNotFound if not exists.
func (s *ScenarioStore) GetByID(ctx context.Context, scenarioID string) (*domain.Scenario, error) {
	query := `SELECT document FROM scenarios WHERE scenario_id = $1`

	var doc []byte
	err := s.pool.QueryRow(ctx, query, scenarioID).Scan(&doc)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get scenario: %w", err)
	}

	var sc domain.Scenario
	if err := json.Unmarshal(doc, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

// Save upserts the full document.
func (s *ScenarioStore) Save(ctx context.Context, sc *domain.Scenario) error {
	if sc == nil || sc.ScenarioID == "" {
		return storage.ErrInvalidInput
	}
	doc, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}

	query := `
		INSERT INTO scenarios (scenario_id, name, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (scenario_id) DO UPDATE
		SET name = EXCLUDED.name, document = EXCLUDED.document, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, sc.ScenarioID, sc.Name, doc); err != nil {
		return fmt.Errorf("save scenario: %w", err)
	}
	return nil
}

// List returns all stored scenario IDs.
func (s *ScenarioStore) List(ctx context.Context) ([]string, error) {
	query := `SELECT scenario_id FROM scenarios ORDER BY scenario_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scenario id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
