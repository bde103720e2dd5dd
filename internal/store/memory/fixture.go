package memory

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document describing profiles, rules and records.
//
//	profiles:
//	  - name: account to contact
//	    sourceEntity: account
//	    targetEntity: contact
//	    rules:
//	      - sourceField: name
//	        sourceType: text
//	        targetField: company
//	        targetType: text
//	records:
//	  account:
//	    6f1c...: {name: Acme}
type Fixture struct {
	Profiles []ProfileFixture                    `yaml:"profiles"`
	Records  map[string]map[string]map[string]any `yaml:"records"`
}

// ProfileFixture is one profile entry. Missing IDs are derived from the name.
type ProfileFixture struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	SourceEntity string        `yaml:"sourceEntity"`
	TargetEntity string        `yaml:"targetEntity"`
	Direction    string        `yaml:"direction"`
	SyncMode     string        `yaml:"syncMode"`
	Active       *bool         `yaml:"active"`
	Description  string        `yaml:"description"`
	Rules        []RuleFixture `yaml:"rules"`
}

// RuleFixture is one rule entry. Missing IDs are derived from the profile
// ID and the rule's position.
type RuleFixture struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	SourceField string  `yaml:"sourceField"`
	SourceType  string  `yaml:"sourceType"`
	TargetField string  `yaml:"targetField"`
	TargetType  string  `yaml:"targetType"`
	Mode        string  `yaml:"mode"`
	Required    bool    `yaml:"required"`
	Default     *string `yaml:"default"`
	Cascading   bool    `yaml:"cascading"`
	Order       int     `yaml:"order"`
	Active      *bool   `yaml:"active"`
}

// Writer receives the contents of a fixture. Every store in this module
// implements it.
type Writer interface {
	SaveProfile(ctx context.Context, profile domain.Profile) error
	SaveRecord(ctx context.Context, entity string, recordID uuid.UUID, props map[string]any) error
}

// LoadFixtureFile reads and parses a fixture file.
func LoadFixtureFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file %s: %w", path, err)
	}
	return ParseFixture(data)
}

// ParseFixture parses fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture YAML: %w", err)
	}
	return &f, nil
}

// DomainProfiles converts the profile entries, applying defaults and
// validating field types.
func (f *Fixture) DomainProfiles() ([]domain.Profile, error) {
	out := make([]domain.Profile, 0, len(f.Profiles))
	for i, pf := range f.Profiles {
		if pf.Name == "" || pf.SourceEntity == "" || pf.TargetEntity == "" {
			return nil, fmt.Errorf("profile %d: name, sourceEntity and targetEntity are required", i)
		}
		id, err := fixtureID(pf.ID, uuid.NameSpaceOID, "profile:"+pf.Name)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", pf.Name, err)
		}

		profile := domain.Profile{
			ID:           id,
			Name:         pf.Name,
			SourceEntity: pf.SourceEntity,
			TargetEntity: pf.TargetEntity,
			Direction:    domain.MappingDirection(orDefault(pf.Direction, string(domain.DirectionParentToChild))),
			SyncMode:     domain.SyncMode(orDefault(pf.SyncMode, string(domain.SyncModeOneTime))),
			IsActive:     boolOr(pf.Active, true),
			Description:  pf.Description,
		}

		rules := make([]domain.Rule, 0, len(pf.Rules))
		for j, rf := range pf.Rules {
			rule, err := rf.domainRule(id, j)
			if err != nil {
				return nil, fmt.Errorf("profile %q rule %d: %w", pf.Name, j, err)
			}
			rules = append(rules, rule)
		}
		out = append(out, profile.WithRules(rules))
	}
	return out, nil
}

func (rf RuleFixture) domainRule(profileID uuid.UUID, index int) (domain.Rule, error) {
	if rf.SourceField == "" || rf.TargetField == "" {
		return domain.Rule{}, fmt.Errorf("sourceField and targetField are required")
	}
	sourceType := domain.ParseFieldType(rf.SourceType)
	if !sourceType.Valid() {
		return domain.Rule{}, fmt.Errorf("unknown source type %q", rf.SourceType)
	}
	targetType := domain.ParseFieldType(rf.TargetType)
	if !targetType.Valid() {
		return domain.Rule{}, fmt.Errorf("unknown target type %q", rf.TargetType)
	}
	id, err := fixtureID(rf.ID, profileID, "rule:"+strconv.Itoa(index))
	if err != nil {
		return domain.Rule{}, err
	}
	return domain.Rule{
		ID:                id,
		ProfileID:         profileID,
		Name:              rf.Name,
		SourceField:       rf.SourceField,
		SourceFieldType:   sourceType,
		TargetField:       rf.TargetField,
		TargetFieldType:   targetType,
		CompatibilityMode: domain.CompatibilityMode(orDefault(rf.Mode, string(domain.CompatibilityStrict))),
		IsRequired:        rf.Required,
		DefaultValue:      rf.Default,
		IsCascadingSource: rf.Cascading,
		ExecutionOrder:    rf.Order,
		IsActive:          boolOr(rf.Active, true),
	}, nil
}

// Apply writes every profile and record of the fixture to w.
func (f *Fixture) Apply(ctx context.Context, w Writer) error {
	profiles, err := f.DomainProfiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := w.SaveProfile(ctx, p); err != nil {
			return err
		}
	}
	for entity, records := range f.Records {
		for rawID, props := range records {
			id, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("record %s/%s: invalid id: %w", entity, rawID, err)
			}
			if err := w.SaveRecord(ctx, entity, id, props); err != nil {
				return err
			}
		}
	}
	return nil
}

func fixtureID(raw string, space uuid.UUID, name string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.NewSHA1(space, []byte(name)), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
