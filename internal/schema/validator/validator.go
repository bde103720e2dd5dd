package validator

import (
	"fmt"
	"strings"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
)

// CompatibilityLevel grades how a value moves from one field type to another.
type CompatibilityLevel string

const (
	LevelExact           CompatibilityLevel = "exact"
	LevelSafeConversion  CompatibilityLevel = "safe_conversion"
	LevelRequiresResolve CompatibilityLevel = "requires_resolve"
	LevelIncompatible    CompatibilityLevel = "incompatible"
)

// compatibilityMatrix lists, per source type, the other types it may be
// written into under strict mode. It is directional: Number->Text is
// allowed, Text->Number is not.
var compatibilityMatrix = map[domain.FieldType][]domain.FieldType{
	domain.FieldTypeText:      {domain.FieldTypeMemo},
	domain.FieldTypeMemo:      {domain.FieldTypeText},
	domain.FieldTypeLookup:    {domain.FieldTypeText, domain.FieldTypeMemo},
	domain.FieldTypeOptionSet: {domain.FieldTypeText, domain.FieldTypeMemo},
	domain.FieldTypeNumber:    {domain.FieldTypeText, domain.FieldTypeMemo},
	domain.FieldTypeDateTime:  {domain.FieldTypeText, domain.FieldTypeMemo},
	domain.FieldTypeBoolean:   {domain.FieldTypeText, domain.FieldTypeMemo},
}

// CompatibilityResult is the outcome of checking one source/target pair.
type CompatibilityResult struct {
	IsCompatible bool               `json:"isCompatible"`
	Level        CompatibilityLevel `json:"level"`
	Warnings     []string           `json:"warnings"`
	Errors       []string           `json:"errors"`
}

// Validate checks whether a value of source type can be written into a
// field of target type under the given mode.
func Validate(source, target domain.FieldType, mode domain.CompatibilityMode) CompatibilityResult {
	result := CompatibilityResult{
		Level:    LevelIncompatible,
		Warnings: []string{},
		Errors:   []string{},
	}

	if source == target {
		result.IsCompatible = true
		result.Level = LevelExact
		return result
	}

	if matrixAllows(source, target) {
		result.IsCompatible = true
		if source.IsTextual() && target.IsTextual() {
			result.Level = LevelExact
			return result
		}
		result.Level = LevelSafeConversion
		if target.IsTextual() {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s value will be formatted as text when written to %s", source, target))
		}
		return result
	}

	if mode == domain.CompatibilityResolve {
		result.Level = LevelRequiresResolve
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("resolving %s into %s by name is not implemented", source, target))
		return result
	}

	result.Errors = append(result.Errors,
		fmt.Sprintf("type %s cannot be mapped to %s; compatible targets for %s: %s",
			source, target, source, joinTypes(CompatibleTargetTypes(source))))
	return result
}

// IsCompatible consults the matrix only, ignoring mode and levels.
func IsCompatible(source, target domain.FieldType) bool {
	return source == target || matrixAllows(source, target)
}

// CompatibleTargetTypes returns the source type followed by every type it
// may be written into.
func CompatibleTargetTypes(source domain.FieldType) []domain.FieldType {
	targets := compatibilityMatrix[source]
	out := make([]domain.FieldType, 0, len(targets)+1)
	out = append(out, source)
	out = append(out, targets...)
	return out
}

func matrixAllows(source, target domain.FieldType) bool {
	for _, t := range compatibilityMatrix[source] {
		if t == target {
			return true
		}
	}
	return false
}

func joinTypes(types []domain.FieldType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// RuleValidation is the compatibility verdict for one rule of a profile.
type RuleValidation struct {
	RuleID      uuid.UUID           `json:"ruleId"`
	RuleName    string              `json:"ruleName,omitempty"`
	SourceField string              `json:"sourceField"`
	TargetField string              `json:"targetField"`
	Result      CompatibilityResult `json:"result"`
}

// ProfileValidation summarises every rule of a profile.
type ProfileValidation struct {
	ProfileID         uuid.UUID        `json:"profileId"`
	IsValid           bool             `json:"isValid"`
	Rules             []RuleValidation `json:"rules"`
	CompatibleCount   int              `json:"compatibleCount"`
	IncompatibleCount int              `json:"incompatibleCount"`
	WarningCount      int              `json:"warningCount"`
}

// ValidateProfile runs Validate over every rule. When rules is nil the
// profile's loaded rules are used. The profile is valid iff no rule is
// incompatible.
func ValidateProfile(profile domain.Profile, rules []domain.Rule) ProfileValidation {
	if rules == nil {
		rules = profile.Rules
	}

	report := ProfileValidation{
		ProfileID: profile.ID,
		Rules:     make([]RuleValidation, 0, len(rules)),
	}

	for _, rule := range rules {
		result := Validate(rule.SourceFieldType, rule.TargetFieldType, rule.CompatibilityMode)
		if result.IsCompatible {
			report.CompatibleCount++
		} else {
			report.IncompatibleCount++
		}
		report.WarningCount += len(result.Warnings)
		report.Rules = append(report.Rules, RuleValidation{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			SourceField: rule.SourceField,
			TargetField: rule.TargetField,
			Result:      result,
		})
	}

	report.IsValid = report.IncompatibleCount == 0
	return report
}

// ValidateRule ensures a rule definition is well formed before it is
// stored: both field names present and both types drawn from the closed set.
func ValidateRule(rule domain.Rule) error {
	if strings.TrimSpace(rule.SourceField) == "" {
		return fmt.Errorf("rule %s has no source field", rule.Label())
	}
	if strings.TrimSpace(rule.TargetField) == "" {
		return fmt.Errorf("rule %s has no target field", rule.Label())
	}
	if !rule.SourceFieldType.Valid() {
		return fmt.Errorf("rule %s declares unknown source type %q", rule.Label(), rule.SourceFieldType)
	}
	if !rule.TargetFieldType.Valid() {
		return fmt.Errorf("rule %s declares unknown target type %q", rule.Label(), rule.TargetFieldType)
	}
	switch rule.CompatibilityMode {
	case "", domain.CompatibilityStrict, domain.CompatibilityResolve:
	default:
		return fmt.Errorf("rule %s declares unknown compatibility mode %q", rule.Label(), rule.CompatibilityMode)
	}
	return nil
}
