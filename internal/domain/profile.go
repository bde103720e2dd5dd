package domain

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Profile is a named, directional mapping configuration between two entity types
type Profile struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	SourceEntity string           `json:"sourceEntity"`
	TargetEntity string           `json:"targetEntity"`
	Direction    MappingDirection `json:"mappingDirection"`
	SyncMode     SyncMode         `json:"syncMode"`
	IsActive     bool             `json:"isActive"`
	Description  string           `json:"description,omitempty"`
	// Rules is nil when the rules have not been loaded. A loaded profile
	// without rules carries an empty, non-nil slice.
	Rules     []Rule    `json:"rules,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RulesLoaded reports whether Rules was populated by a loader.
func (p Profile) RulesLoaded() bool {
	return p.Rules != nil
}

// WithRules returns a copy of the profile carrying the given rules.
func (p Profile) WithRules(rules []Rule) Profile {
	if rules == nil {
		rules = []Rule{}
	}
	p.Rules = copyRules(rules)
	return p
}

// Rule is one field-to-field instruction within a profile
type Rule struct {
	ID                uuid.UUID         `json:"id"`
	ProfileID         uuid.UUID         `json:"profileId"`
	Name              string            `json:"name,omitempty"`
	SourceField       string            `json:"sourceField"`
	SourceFieldType   FieldType         `json:"sourceFieldType"`
	TargetField       string            `json:"targetField"`
	TargetFieldType   FieldType         `json:"targetFieldType"`
	CompatibilityMode CompatibilityMode `json:"compatibilityMode"`
	IsRequired        bool              `json:"isRequired"`
	DefaultValue      *string           `json:"defaultValue,omitempty"`
	IsCascadingSource bool              `json:"isCascadingSource"`
	ExecutionOrder    int               `json:"executionOrder"`
	IsActive          bool              `json:"isActive"`
}

// HasDefault reports whether the rule carries a non-empty default value.
func (r Rule) HasDefault() bool {
	return r.DefaultValue != nil && *r.DefaultValue != ""
}

// Label identifies the rule in log lines and error messages.
func (r Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s->%s", r.SourceField, r.TargetField)
}

// SortRules orders rules by ascending execution order, keeping the input
// order for ties.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].ExecutionOrder < rules[j].ExecutionOrder
	})
}

// ActiveRules returns the active rules in execution order.
func ActiveRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			out = append(out, rule)
		}
	}
	SortRules(out)
	return out
}

func copyRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// ProfileFilter narrows a profile listing
type ProfileFilter struct {
	ActiveOnly   bool
	SourceEntity string
	TargetEntity string
	ProfileID    *uuid.UUID
}

// CacheKey derives a stable cache key from the filter shape.
func (f ProfileFilter) CacheKey() string {
	id := ""
	if f.ProfileID != nil {
		id = f.ProfileID.String()
	}
	return ProfileCachePrefix + "active=" + strconv.FormatBool(f.ActiveOnly) +
		"|source=" + f.SourceEntity +
		"|target=" + f.TargetEntity +
		"|id=" + id
}

// Matches reports whether a profile satisfies the filter. Stores that
// filter in memory use it; SQL stores push the same predicate into the query.
func (f ProfileFilter) Matches(p Profile) bool {
	if f.ActiveOnly && !p.IsActive {
		return false
	}
	if f.SourceEntity != "" && f.SourceEntity != p.SourceEntity {
		return false
	}
	if f.TargetEntity != "" && f.TargetEntity != p.TargetEntity {
		return false
	}
	if f.ProfileID != nil && *f.ProfileID != p.ID {
		return false
	}
	return true
}

// ProfileQuery is a filter plus loading options.
type ProfileQuery struct {
	ProfileFilter
	IncludeRules bool
}

// Cache key prefixes shared by the repository and its invalidation helpers.
const (
	ProfileCachePrefix = "profiles:"
	RuleCachePrefix    = "rules:"
)

// RuleCacheKey returns the cache key for a profile's rule list.
func RuleCacheKey(profileID uuid.UUID) string {
	return RuleCachePrefix + profileID.String()
}
