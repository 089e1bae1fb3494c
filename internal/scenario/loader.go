// Package scenario loads and validates scenario documents and resolves
// time-dependent scenario state (stress multipliers) during a run.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"creditnet-lab/internal/domain"
)

// Loader errors.
var (
	ErrUnknownFormat = errors.New("unknown scenario file format")
	ErrInvalid       = errors.New("invalid scenario")
)

// LoadFile reads a scenario document from a YAML or JSON file, validates
// it and normalizes its settings.
func LoadFile(path string) (*domain.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var sc domain.Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse yaml scenario: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse json scenario: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Ext(path))
	}

	if err := Validate(&sc); err != nil {
		return nil, err
	}
	sc.Settings.Normalize()
	sortTimeline(sc.Timeline)
	return &sc, nil
}

// Validate checks structural consistency of a scenario document.
func Validate(sc *domain.Scenario) error {
	if sc.ScenarioID == "" {
		return fmt.Errorf("%w: missing scenario_id", ErrInvalid)
	}
	if len(sc.Equivalents) == 0 {
		return fmt.Errorf("%w: no equivalents", ErrInvalid)
	}
	if len(sc.Participants) == 0 {
		return fmt.Errorf("%w: no participants", ErrInvalid)
	}

	ids := make(map[string]struct{}, len(sc.Participants))
	for _, p := range sc.Participants {
		if p.ID == "" {
			return fmt.Errorf("%w: participant with empty id", ErrInvalid)
		}
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalid, p.ID)
		}
		ids[p.ID] = struct{}{}
		if p.Profile != "" && sc.Profile(p.Profile) == nil {
			return fmt.Errorf("%w: participant %s references unknown profile %s", ErrInvalid, p.ID, p.Profile)
		}
	}

	equivalents := make(map[string]struct{}, len(sc.Equivalents))
	for _, eq := range sc.Equivalents {
		equivalents[eq] = struct{}{}
	}

	edgeKeys := make(map[domain.EdgeKey]struct{}, len(sc.TrustEdges))
	for _, e := range sc.TrustEdges {
		if _, ok := ids[e.Creditor]; !ok {
			return fmt.Errorf("%w: edge references unknown creditor %s", ErrInvalid, e.Creditor)
		}
		if _, ok := ids[e.Debtor]; !ok {
			return fmt.Errorf("%w: edge references unknown debtor %s", ErrInvalid, e.Debtor)
		}
		if _, ok := equivalents[e.Equivalent]; !ok {
			return fmt.Errorf("%w: edge in unknown equivalent %s", ErrInvalid, e.Equivalent)
		}
		if e.Limit < 0 {
			return fmt.Errorf("%w: edge %s->%s has negative limit", ErrInvalid, e.Creditor, e.Debtor)
		}
		if e.Status == "" {
			e.Status = domain.EdgeStatusActive
		}
		key := e.Key()
		if _, dup := edgeKeys[key]; dup {
			return fmt.Errorf("%w: duplicate edge %s->%s (%s)", ErrInvalid, e.Creditor, e.Debtor, e.Equivalent)
		}
		edgeKeys[key] = struct{}{}
	}

	for _, d := range sc.SeedDebts {
		if d.Amount < 0 {
			return fmt.Errorf("%w: seed debt %s->%s negative", ErrInvalid, d.Debtor, d.Creditor)
		}
		key := domain.EdgeKey{Creditor: d.Creditor, Debtor: d.Debtor, Equivalent: d.Equivalent}
		if _, ok := edgeKeys[key]; !ok {
			return fmt.Errorf("%w: seed debt %s->%s has no trust edge", ErrInvalid, d.Debtor, d.Creditor)
		}
	}

	for i, ev := range sc.Timeline {
		switch ev.Type {
		case domain.EventTypeNote:
		case domain.EventTypeStress:
			if ev.Stress == nil {
				return fmt.Errorf("%w: timeline[%d] stress event without payload", ErrInvalid, i)
			}
			if ev.Stress.Multiplier <= 0 {
				return fmt.Errorf("%w: timeline[%d] non-positive stress multiplier", ErrInvalid, i)
			}
		case domain.EventTypeInject:
			if ev.Inject == nil {
				return fmt.Errorf("%w: timeline[%d] inject event without payload", ErrInvalid, i)
			}
		default:
			return fmt.Errorf("%w: timeline[%d] unknown event type %q", ErrInvalid, i, ev.Type)
		}
	}

	return nil
}

// sortTimeline orders events by scheduled time, stable for equal times.
func sortTimeline(events []*domain.TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].AtMs < events[j].AtMs
	})
}
