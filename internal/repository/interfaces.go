package repository

import (
	"context"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
)

// Store is the record store collaborator the engine reads profiles, rules
// and source values from. The query language and transport behind it are
// the implementation's concern.
type Store interface {
	// ListProfiles returns the profiles matching the filter.
	ListProfiles(ctx context.Context, filter domain.ProfileFilter) ([]domain.Profile, error)

	// ListRules returns the active rules of a profile ordered by execution order.
	ListRules(ctx context.Context, profileID uuid.UUID) ([]domain.Rule, error)

	// GetFieldValues returns the named field values of one record. Fields
	// the record does not carry are omitted from the result.
	GetFieldValues(ctx context.Context, entity string, recordID uuid.UUID, fields []string) (map[string]any, error)
}

// BatchRuleStore is implemented by stores that can load the rules of several
// profiles in one round trip.
type BatchRuleStore interface {
	ListRulesForProfiles(ctx context.Context, profileIDs []uuid.UUID) (map[uuid.UUID][]domain.Rule, error)
}
