package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Value is a sealed union of the values a mapped field can hold. Only the
// types declared in this file implement it.
type Value interface {
	// Kind reports the field type the value naturally belongs to. Null
	// reports the empty type.
	Kind() FieldType
	// Native returns a plain Go representation suitable for JSON encoding
	// or handing back to a store.
	Native() any
	value()
}

// Null is the absent value.
type Null struct{}

func (Null) Kind() FieldType { return "" }
func (Null) Native() any { return nil }
func (Null) value() {}

// String holds Text and Memo values.
type String string

func (String) Kind() FieldType { return FieldTypeText }
func (s String) Native() any { return string(s) }
func (String) value() {}

// Number holds numeric values.
type Number float64

func (Number) Kind() FieldType { return FieldTypeNumber }
func (n Number) Native() any { return float64(n) }
func (Number) value() {}

// Bool holds two-option values.
type Bool bool

func (Bool) Kind() FieldType { return FieldTypeBoolean }
func (b Bool) Native() any { return bool(b) }
func (Bool) value() {}

// DateTime holds a timestamp. Raw keeps the original ISO string when the
// value arrived as text so it can be passed through untouched.
type DateTime struct {
	Time time.Time
	Raw  string
}

func (DateTime) Kind() FieldType { return FieldTypeDateTime }
func (d DateTime) Native() any { return d.ISO() }
func (DateTime) value() {}

// ISO renders the timestamp as ISO-8601.
func (d DateTime) ISO() string {
	if d.Raw != "" {
		return d.Raw
	}
	return d.Time.UTC().Format(isoMillis)
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Reference is a lookup to another record.
type Reference struct {
	ID             uuid.UUID `json:"id"`
	EntityType     string    `json:"entityType,omitempty"`
	Name           string    `json:"name,omitempty"`
	FormattedValue string    `json:"formattedValue,omitempty"`
}

func (Reference) Kind() FieldType { return FieldTypeLookup }
func (r Reference) Native() any {
	out := map[string]any{"id": r.ID.String()}
	if r.EntityType != "" {
		out["entityType"] = r.EntityType
	}
	if r.Name != "" {
		out["name"] = r.Name
	}
	if r.FormattedValue != "" {
		out["formattedValue"] = r.FormattedValue
	}
	return out
}
func (Reference) value() {}

// OptionSet is an enumerated integer choice with an optional display label.
type OptionSet struct {
	Value          int
	FormattedValue string
}

func (OptionSet) Kind() FieldType { return FieldTypeOptionSet }
func (o OptionSet) Native() any { return o.Value }
func (OptionSet) value() {}

// Label returns the display label, falling back to the integer value.
func (o OptionSet) Label() string {
	if o.FormattedValue != "" {
		return o.FormattedValue
	}
	return strconv.Itoa(o.Value)
}

// IsEmpty reports whether v counts as "no value" for mapping purposes:
// nil, Null, or the empty string.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil:
		return true
	case Null:
		return true
	case String:
		return val == ""
	}
	return false
}

// Record is the in-memory field map of a target record.
type Record map[string]Value

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Native converts the record into plain Go values.
func (r Record) Native() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = v.Native()
	}
	return out
}
