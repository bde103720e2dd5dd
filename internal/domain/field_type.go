package domain

import "strings"

// FieldType represents the declared type of a mapped field
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeMemo      FieldType = "memo"
	FieldTypeLookup    FieldType = "lookup"
	FieldTypeOptionSet FieldType = "optionset"
	FieldTypeNumber    FieldType = "number"
	FieldTypeDateTime  FieldType = "datetime"
	FieldTypeBoolean   FieldType = "boolean"
)

var allFieldTypes = []FieldType{
	FieldTypeText,
	FieldTypeMemo,
	FieldTypeLookup,
	FieldTypeOptionSet,
	FieldTypeNumber,
	FieldTypeDateTime,
	FieldTypeBoolean,
}

// AllFieldTypes returns the closed set of field types in declaration order.
func AllFieldTypes() []FieldType {
	out := make([]FieldType, len(allFieldTypes))
	copy(out, allFieldTypes)
	return out
}

// Valid reports whether the type belongs to the closed set.
func (t FieldType) Valid() bool {
	for _, ft := range allFieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// IsTextual reports whether values of this type are stored as free text.
func (t FieldType) IsTextual() bool {
	return t == FieldTypeText || t == FieldTypeMemo
}

// ParseFieldType normalises a stored type name. Unknown names are returned
// as-is so callers can report them.
func ParseFieldType(s string) FieldType {
	return FieldType(strings.ToLower(strings.TrimSpace(s)))
}

// CompatibilityMode controls how a rule treats mismatched field types.
type CompatibilityMode string

const (
	CompatibilityStrict  CompatibilityMode = "strict"
	CompatibilityResolve CompatibilityMode = "resolve"
)

// MappingDirection describes which side of a relationship a profile feeds.
type MappingDirection string

const (
	DirectionParentToChild MappingDirection = "parent_to_child"
	DirectionChildToParent MappingDirection = "child_to_parent"
	DirectionBidirectional MappingDirection = "bidirectional"
)

// SyncMode describes when a profile is expected to run.
type SyncMode string

const (
	SyncModeOneTime       SyncMode = "one_time"
	SyncModeManualRefresh SyncMode = "manual_refresh"
)
