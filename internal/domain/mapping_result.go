package domain

import (
	"github.com/google/uuid"
)

// MappingErrorCode categorizes per-rule and engine-level failures.
type MappingErrorCode string

const (
	ErrCodeSourceFieldNotFound MappingErrorCode = "SOURCE_FIELD_NOT_FOUND"
	// ErrCodeTargetFieldNotFound is reserved for store-level field resolution.
	ErrCodeTargetFieldNotFound MappingErrorCode = "TARGET_FIELD_NOT_FOUND"
	ErrCodeTypeMismatch        MappingErrorCode = "TYPE_MISMATCH"
	ErrCodeRequiredFieldEmpty  MappingErrorCode = "REQUIRED_FIELD_EMPTY"
	ErrCodeProfileNotFound     MappingErrorCode = "PROFILE_NOT_FOUND"
	ErrCodeProfileInactive     MappingErrorCode = "PROFILE_INACTIVE"
	// ErrCodeCascadingLoopDetected is reserved. The two-pass cap prevents
	// loops structurally.
	ErrCodeCascadingLoopDetected MappingErrorCode = "CASCADING_LOOP_DETECTED"
	ErrCodeStoreError            MappingErrorCode = "STORE_ERROR"
	ErrCodeUnknown               MappingErrorCode = "UNKNOWN"
)

// IsFatal reports whether an error with this code marks a mapping run as failed.
func (c MappingErrorCode) IsFatal() bool {
	return c == ErrCodeTypeMismatch || c == ErrCodeRequiredFieldEmpty
}

// MappingError describes a rule that could not be applied.
type MappingError struct {
	RuleID      uuid.UUID        `json:"ruleId"`
	SourceField string           `json:"sourceField"`
	TargetField string           `json:"targetField"`
	Message     string           `json:"message"`
	Code        MappingErrorCode `json:"code"`
}

// MappingResult aggregates the outcome of one apply call.
type MappingResult struct {
	Success        bool           `json:"success"`
	AppliedRules   int            `json:"appliedRules"`
	SkippedRules   int            `json:"skippedRules"`
	TotalRules     int            `json:"totalRules"`
	FieldsMapped   []string       `json:"fieldsMapped"`
	Errors         []MappingError `json:"errors"`
	Pass           int            `json:"pass"`
	SourceRecordID uuid.UUID      `json:"sourceRecordId"`
	ProfileID      uuid.UUID      `json:"profileId"`
	DryRun         bool           `json:"dryRun"`
	// Patch holds the staged target values keyed by target field.
	Patch Record `json:"-"`
}

// NewMappingResult returns an empty successful result for a run.
func NewMappingResult(sourceRecordID, profileID uuid.UUID) MappingResult {
	return MappingResult{
		Success:        true,
		FieldsMapped:   []string{},
		Errors:         []MappingError{},
		Pass:           1,
		SourceRecordID: sourceRecordID,
		ProfileID:      profileID,
		Patch:          Record{},
	}
}

// Commit merges the staged patch into target. Dry runs leave target untouched.
func (r MappingResult) Commit(target Record) {
	if r.DryRun || target == nil {
		return
	}
	for field, v := range r.Patch {
		target[field] = v
	}
}

// ErrorsByCode returns the errors carrying the given code.
func (r MappingResult) ErrorsByCode(code MappingErrorCode) []MappingError {
	var out []MappingError
	for _, e := range r.Errors {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out
}

// Stage records value as the new content of field and counts one applied rule.
func (r *MappingResult) Stage(field string, value Value) {
	if r.Patch == nil {
		r.Patch = Record{}
	}
	r.Patch[field] = value
	r.AppliedRules++
	r.addField(field)
}

// Merge folds the counts, errors, fields and staged values of another pass
// into r. Later passes overwrite earlier staged values for the same field.
func (r *MappingResult) Merge(other MappingResult) {
	r.AppliedRules += other.AppliedRules
	r.SkippedRules += other.SkippedRules
	r.TotalRules += other.TotalRules
	r.Errors = append(r.Errors, other.Errors...)
	for _, field := range other.FieldsMapped {
		r.addField(field)
	}
	if r.Patch == nil {
		r.Patch = Record{}
	}
	for field, v := range other.Patch {
		r.Patch[field] = v
	}
	for _, e := range other.Errors {
		if e.Code.IsFatal() {
			r.Success = false
		}
	}
}

func (r *MappingResult) addField(field string) {
	for _, f := range r.FieldsMapped {
		if f == field {
			return
		}
	}
	r.FieldsMapped = append(r.FieldsMapped, field)
}
