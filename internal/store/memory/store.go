// Package memory holds mapping profiles, rules and records in process memory.
// It is loaded from YAML fixtures and serves tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rpattn/fieldmap/internal/domain"
	"github.com/rpattn/fieldmap/internal/repository"

	"github.com/google/uuid"
)

// Store is a concurrency-safe in-memory record store.
type Store struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]domain.Profile
	rules    map[uuid.UUID][]domain.Rule
	records  map[string]map[uuid.UUID]map[string]any
}

var (
	_ repository.Store          = (*Store)(nil)
	_ repository.BatchRuleStore = (*Store)(nil)
	_ Writer                    = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		profiles: map[uuid.UUID]domain.Profile{},
		rules:    map[uuid.UUID][]domain.Rule{},
		records:  map[string]map[uuid.UUID]map[string]any{},
	}
}

// NewFromFile returns a store populated from a fixture file.
func NewFromFile(path string) (*Store, error) {
	fixture, err := LoadFixtureFile(path)
	if err != nil {
		return nil, err
	}
	s := New()
	if err := fixture.Apply(context.Background(), s); err != nil {
		return nil, fmt.Errorf("failed to load fixture %s: %w", path, err)
	}
	return s, nil
}

// ListProfiles returns the profiles matching filter ordered by name.
func (s *Store) ListProfiles(_ context.Context, filter domain.ProfileFilter) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Profile{}
	for _, p := range s.profiles {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// ListRules returns the active rules of one profile in execution order.
func (s *Store) ListRules(_ context.Context, profileID uuid.UUID) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ActiveRules(s.rules[profileID]), nil
}

// ListRulesForProfiles returns the active rules of each requested profile.
func (s *Store) ListRulesForProfiles(_ context.Context, profileIDs []uuid.UUID) (map[uuid.UUID][]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID][]domain.Rule, len(profileIDs))
	for _, id := range profileIDs {
		if rules, ok := s.rules[id]; ok {
			out[id] = domain.ActiveRules(rules)
		}
	}
	return out, nil
}

// GetFieldValues returns the requested fields of one record.
func (s *Store) GetFieldValues(_ context.Context, entity string, recordID uuid.UUID, fields []string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	props, ok := s.records[entity][recordID]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", entity, recordID, repository.ErrRecordNotFound)
	}
	return repository.PickFields(props, fields), nil
}

// SaveProfile stores a profile. Loaded rules replace the stored ones.
func (s *Store) SaveProfile(_ context.Context, profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.RulesLoaded() {
		rules := make([]domain.Rule, len(profile.Rules))
		for i, r := range profile.Rules {
			r.ProfileID = profile.ID
			rules[i] = r
		}
		s.rules[profile.ID] = rules
	}
	profile.Rules = nil
	s.profiles[profile.ID] = profile
	return nil
}

// SaveRecord stores a copy of props as the record's properties.
func (s *Store) SaveRecord(_ context.Context, entity string, recordID uuid.UUID, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[entity]
	if !ok {
		byID = map[uuid.UUID]map[string]any{}
		s.records[entity] = byID
	}
	copied := make(map[string]any, len(props))
	for k, v := range props {
		copied[k] = v
	}
	byID[recordID] = copied
	return nil
}
