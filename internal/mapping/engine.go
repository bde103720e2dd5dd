package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rpattn/fieldmap/internal/converter"
	"github.com/rpattn/fieldmap/internal/domain"
	"github.com/rpattn/fieldmap/internal/schema/validator"

	"github.com/google/uuid"
)

// MaxPasses is the hard cap on rule application passes: one regular pass
// plus one cascading pass. Longer chains do not fully propagate in a
// single call.
const MaxPasses = 2

// RuleSource is the subset of the profile repository used by the engine.
type RuleSource interface {
	GetRulesForProfile(ctx context.Context, profileID uuid.UUID) ([]domain.Rule, error)
	GetSourceValues(ctx context.Context, sourceEntity string, recordID uuid.UUID, fields []string) (map[string]any, error)
	GetProfileForEntityPair(ctx context.Context, sourceEntity, targetEntity string) (*domain.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

// Options tunes a single apply call.
type Options struct {
	// SkipValidation bypasses the type compatibility check.
	SkipValidation bool
	// MaxPasses limits rule application passes. Zero or less means the
	// engine default; values above MaxPasses are capped.
	MaxPasses int
	// RuleIDs restricts the run to the listed rules when non-empty.
	RuleIDs []uuid.UUID
	// DryRun computes the full result but marks it so Commit is a no-op.
	DryRun bool
}

// Engine applies mapping profiles to source records.
type Engine struct {
	rules            RuleSource
	defaultMaxPasses int
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultMaxPasses sets the pass limit used when Options.MaxPasses is unset.
func WithDefaultMaxPasses(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.defaultMaxPasses = n
		}
	}
}

// NewEngine constructs an engine reading rules and source values from rules.
func NewEngine(rules RuleSource, opts ...Option) *Engine {
	e := &Engine{rules: rules, defaultMaxPasses: MaxPasses}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyMappings runs profile against the source record and returns the
// staged target values in the result's Patch. Per-rule problems are
// collected in the result; store failures are returned as errors.
func (e *Engine) ApplyMappings(ctx context.Context, sourceRecordID uuid.UUID, profile domain.Profile, opts Options) (domain.MappingResult, error) {
	result := domain.NewMappingResult(sourceRecordID, profile.ID)
	result.DryRun = opts.DryRun

	rules, err := e.resolveRules(ctx, profile, opts.RuleIDs)
	if err != nil {
		return domain.MappingResult{}, err
	}
	if len(rules) == 0 {
		slog.Debug("profile has no rules", "profile", profile.Name, "record", sourceRecordID)
		return result, nil
	}

	sourceValues, err := e.rules.GetSourceValues(ctx, profile.SourceEntity, sourceRecordID, distinctSourceFields(rules))
	if err != nil {
		return domain.MappingResult{}, fmt.Errorf("fetch source values for %s %s: %w", profile.SourceEntity, sourceRecordID, err)
	}

	first := runPass(rules, sourceValues, opts)
	result.Merge(first)

	if e.maxPasses(opts) > 1 {
		cascading := cascadingRules(rules, first.FieldsMapped)
		if len(cascading) > 0 {
			second := runPass(cascading, overlay(sourceValues, first.Patch), opts)
			result.Merge(second)
			result.Pass = 2
		}
	}

	slog.Info("mapping applied",
		"profile", profile.Name,
		"record", sourceRecordID,
		"pass", result.Pass,
		"applied", result.AppliedRules,
		"skipped", result.SkippedRules,
		"errors", len(result.Errors),
		"dryRun", opts.DryRun,
	)
	return result, nil
}

// ApplyTo runs ApplyMappings and writes the staged values into target
// unless the run is a dry run.
func (e *Engine) ApplyTo(ctx context.Context, sourceRecordID uuid.UUID, target domain.Record, profile domain.Profile, opts Options) (domain.MappingResult, error) {
	result, err := e.ApplyMappings(ctx, sourceRecordID, profile, opts)
	if err != nil {
		return result, err
	}
	result.Commit(target)
	return result, nil
}

// ApplyForEntityPair resolves the active profile between two entity types
// and applies it.
func (e *Engine) ApplyForEntityPair(ctx context.Context, sourceEntity, targetEntity string, sourceRecordID uuid.UUID, opts Options) (domain.MappingResult, error) {
	profile, err := e.rules.GetProfileForEntityPair(ctx, sourceEntity, targetEntity)
	if err != nil {
		return domain.MappingResult{}, err
	}
	if profile == nil {
		return domain.MappingResult{}, domain.NewProfileNotFoundError("no active profile maps %s to %s", sourceEntity, targetEntity)
	}
	return e.ApplyMappings(ctx, sourceRecordID, *profile, opts)
}

// ApplyByProfileID loads a profile by ID and applies it. Missing and
// inactive profiles are reported as errors.
func (e *Engine) ApplyByProfileID(ctx context.Context, profileID, sourceRecordID uuid.UUID, opts Options) (domain.MappingResult, error) {
	profile, err := e.rules.GetProfile(ctx, profileID)
	if err != nil {
		return domain.MappingResult{}, err
	}
	if profile == nil {
		return domain.MappingResult{}, domain.NewProfileNotFoundError("profile %s does not exist", profileID)
	}
	if !profile.IsActive {
		return domain.MappingResult{}, domain.NewProfileInactiveError(profile.Name)
	}
	return e.ApplyMappings(ctx, sourceRecordID, *profile, opts)
}

func (e *Engine) maxPasses(opts Options) int {
	n := opts.MaxPasses
	if n <= 0 {
		n = e.defaultMaxPasses
	}
	if n > MaxPasses {
		n = MaxPasses
	}
	return n
}

func (e *Engine) resolveRules(ctx context.Context, profile domain.Profile, only []uuid.UUID) ([]domain.Rule, error) {
	var rules []domain.Rule
	if profile.RulesLoaded() {
		rules = make([]domain.Rule, len(profile.Rules))
		copy(rules, profile.Rules)
	} else {
		fetched, err := e.rules.GetRulesForProfile(ctx, profile.ID)
		if err != nil {
			return nil, fmt.Errorf("load rules for profile %s: %w", profile.ID, err)
		}
		rules = fetched
	}

	if len(only) > 0 {
		wanted := make(map[uuid.UUID]struct{}, len(only))
		for _, id := range only {
			wanted[id] = struct{}{}
		}
		filtered := rules[:0]
		for _, rule := range rules {
			if _, ok := wanted[rule.ID]; ok {
				filtered = append(filtered, rule)
			}
		}
		rules = filtered
	}

	domain.SortRules(rules)
	return rules, nil
}

func distinctSourceFields(rules []domain.Rule) []string {
	seen := make(map[string]struct{}, len(rules))
	fields := make([]string, 0, len(rules))
	for _, rule := range rules {
		if _, ok := seen[rule.SourceField]; ok {
			continue
		}
		seen[rule.SourceField] = struct{}{}
		fields = append(fields, rule.SourceField)
	}
	return fields
}

// cascadingRules selects the rules flagged as cascading sources whose
// source field was written as a target field during the previous pass.
func cascadingRules(rules []domain.Rule, mapped []string) []domain.Rule {
	written := make(map[string]struct{}, len(mapped))
	for _, f := range mapped {
		written[f] = struct{}{}
	}
	var out []domain.Rule
	for _, rule := range rules {
		if !rule.IsActive || !rule.IsCascadingSource {
			continue
		}
		if _, ok := written[rule.SourceField]; ok {
			out = append(out, rule)
		}
	}
	return out
}

func overlay(source map[string]any, patch domain.Record) map[string]any {
	out := make(map[string]any, len(source)+len(patch))
	for k, v := range source {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// runPass applies rules in order against values. It never aborts: each
// rule either stages a value, is skipped, or records an error.
func runPass(rules []domain.Rule, values map[string]any, opts Options) domain.MappingResult {
	pass := domain.NewMappingResult(uuid.Nil, uuid.Nil)
	pass.TotalRules = len(rules)

	for _, rule := range rules {
		if !rule.IsActive {
			pass.SkippedRules++
			continue
		}

		if !opts.SkipValidation {
			check := validator.Validate(rule.SourceFieldType, rule.TargetFieldType, rule.CompatibilityMode)
			if !check.IsCompatible {
				pass.SkippedRules++
				pass.Errors = append(pass.Errors, ruleError(rule, domain.ErrCodeTypeMismatch, mismatchMessage(rule, check)))
				slog.Debug("rule skipped: type mismatch", "rule", rule.Label())
				continue
			}
		}

		source := converter.Decode(values[rule.SourceField], rule.SourceFieldType)
		if domain.IsEmpty(source) {
			switch {
			case rule.IsRequired && !rule.HasDefault():
				pass.Errors = append(pass.Errors, ruleError(rule, domain.ErrCodeRequiredFieldEmpty,
					fmt.Sprintf("required source field %q is empty and the rule has no default", rule.SourceField)))
				slog.Debug("rule failed: required field empty", "rule", rule.Label())
			case rule.HasDefault():
				pass.Stage(rule.TargetField, converter.ConvertDefault(*rule.DefaultValue, rule.TargetFieldType))
				slog.Debug("rule applied default", "rule", rule.Label())
			default:
				pass.SkippedRules++
			}
			continue
		}

		pass.Stage(rule.TargetField, converter.Convert(source, rule.TargetFieldType))
		slog.Debug("rule applied", "rule", rule.Label())
	}

	return pass
}

func mismatchMessage(rule domain.Rule, check validator.CompatibilityResult) string {
	if len(check.Errors) > 0 {
		return check.Errors[0]
	}
	if len(check.Warnings) > 0 {
		return check.Warnings[0]
	}
	return fmt.Sprintf("type %s cannot be mapped to %s", rule.SourceFieldType, rule.TargetFieldType)
}

func ruleError(rule domain.Rule, code domain.MappingErrorCode, message string) domain.MappingError {
	return domain.MappingError{
		RuleID:      rule.ID,
		SourceField: rule.SourceField,
		TargetField: rule.TargetField,
		Message:     message,
		Code:        code,
	}
}
