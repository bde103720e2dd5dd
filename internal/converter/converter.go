// Package converter turns raw store values into typed field values and
// converts them between declared field types. Conversion never fails:
// values that cannot be represented in the target type degrade to Null.
package converter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
)

// formattedValueSuffix marks the display-label annotation stores attach
// next to lookup and choice values.
const formattedValueSuffix = "@OData.Community.Display.V1.FormattedValue"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Decode lifts a raw store value into the Value union. The declared type
// steers ambiguous inputs: a string for a Lookup field is read as a record
// ID, a number for an OptionSet field as a choice.
func Decode(raw any, declared domain.FieldType) domain.Value {
	switch v := raw.(type) {
	case nil:
		return domain.Null{}
	case domain.Value:
		return v
	case string:
		return decodeString(v, declared)
	case bool:
		return domain.Bool(v)
	case time.Time:
		return domain.DateTime{Time: v}
	case *time.Time:
		if v == nil {
			return domain.Null{}
		}
		return domain.DateTime{Time: *v}
	case uuid.UUID:
		return domain.Reference{ID: v}
	case json.Number:
		if declared.IsTextual() {
			return domain.String(v.String())
		}
		f, err := v.Float64()
		if err != nil {
			return domain.String(v.String())
		}
		return decodeNumber(f, declared)
	case map[string]any:
		return decodeObject(v, declared)
	}

	if f, ok := toFloat(raw); ok {
		return decodeNumber(f, declared)
	}
	return domain.String(fmt.Sprint(raw))
}

func decodeString(s string, declared domain.FieldType) domain.Value {
	if s == "" {
		return domain.String("")
	}
	switch declared {
	case domain.FieldTypeLookup:
		if id, err := uuid.Parse(strings.TrimSpace(s)); err == nil {
			return domain.Reference{ID: id}
		}
	case domain.FieldTypeDateTime:
		if t, ok := parseDate(s); ok {
			return domain.DateTime{Time: t, Raw: s}
		}
	}
	return domain.String(s)
}

func decodeNumber(f float64, declared domain.FieldType) domain.Value {
	if declared == domain.FieldTypeOptionSet && f == math.Trunc(f) {
		if i, ok := optionValue(f); ok {
			return domain.OptionSet{Value: i}
		}
	}
	return domain.Number(f)
}

// decodeObject reads lookup-shaped objects ({"id", "name", "entityType"})
// and choice objects ({"value", "<key>@...FormattedValue"}).
func decodeObject(obj map[string]any, declared domain.FieldType) domain.Value {
	formatted := ""
	for key, val := range obj {
		if strings.HasSuffix(key, formattedValueSuffix) {
			if s, ok := val.(string); ok {
				formatted = s
			}
		}
	}
	if s, ok := obj["formattedValue"].(string); ok && formatted == "" {
		formatted = s
	}

	if declared == domain.FieldTypeOptionSet {
		if f, ok := toFloat(obj["value"]); ok {
			i, ok := optionValue(f)
			if !ok {
				return domain.Null{}
			}
			return domain.OptionSet{Value: i, FormattedValue: formatted}
		}
	}

	ref := domain.Reference{FormattedValue: formatted}
	for _, key := range []string{"id", "Id", "ID"} {
		if s, ok := obj[key].(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				ref.ID = id
				break
			}
		}
	}
	if s, ok := obj["name"].(string); ok {
		ref.Name = s
	}
	for _, key := range []string{"entityType", "logicalName"} {
		if s, ok := obj[key].(string); ok {
			ref.EntityType = s
			break
		}
	}
	return ref
}

// Convert converts v into the representation of the target field type.
func Convert(v domain.Value, target domain.FieldType) domain.Value {
	if domain.IsEmpty(v) {
		if _, ok := v.(domain.String); ok && target.IsTextual() {
			return domain.String("")
		}
		return domain.Null{}
	}

	switch target {
	case domain.FieldTypeText, domain.FieldTypeMemo:
		return domain.String(FormatText(v))
	case domain.FieldTypeNumber:
		return toNumber(v)
	case domain.FieldTypeBoolean:
		return toBool(v)
	case domain.FieldTypeDateTime:
		return toDateTime(v)
	case domain.FieldTypeLookup:
		return v
	case domain.FieldTypeOptionSet:
		return toOptionSet(v)
	}
	return v
}

// ConvertDefault converts a rule's textual default into the target type.
func ConvertDefault(def string, target domain.FieldType) domain.Value {
	return Convert(Decode(def, target), target)
}

// FormatText renders any value as text.
func FormatText(v domain.Value) string {
	switch val := v.(type) {
	case nil, domain.Null:
		return ""
	case domain.String:
		return string(val)
	case domain.Bool:
		if val {
			return "Yes"
		}
		return "No"
	case domain.Number:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case domain.DateTime:
		return val.ISO()
	case domain.Reference:
		if val.Name != "" {
			return val.Name
		}
		if val.FormattedValue != "" {
			return val.FormattedValue
		}
		if val.ID == uuid.Nil {
			return ""
		}
		return val.ID.String()
	case domain.OptionSet:
		return val.Label()
	}
	return fmt.Sprint(v.Native())
}

func toNumber(v domain.Value) domain.Value {
	switch val := v.(type) {
	case domain.Number:
		return val
	case domain.OptionSet:
		return domain.Number(val.Value)
	case domain.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return domain.Null{}
		}
		return domain.Number(f)
	}
	return domain.Null{}
}

func toBool(v domain.Value) domain.Value {
	if b, ok := v.(domain.Bool); ok {
		return b
	}
	raw := strings.ToLower(strings.TrimSpace(rawText(v)))
	return domain.Bool(raw == "true" || raw == "1" || raw == "yes")
}

// rawText is FormatText without the display conventions, so a Bool never
// turns into "Yes" before being matched.
func rawText(v domain.Value) string {
	switch val := v.(type) {
	case domain.OptionSet:
		return strconv.Itoa(val.Value)
	case domain.Reference:
		return val.ID.String()
	}
	return FormatText(v)
}

func toDateTime(v domain.Value) domain.Value {
	switch val := v.(type) {
	case domain.DateTime:
		return val
	case domain.String:
		s := string(val)
		if t, ok := parseDate(s); ok {
			return domain.DateTime{Time: t, Raw: s}
		}
	}
	return domain.Null{}
}

func toOptionSet(v domain.Value) domain.Value {
	switch val := v.(type) {
	case domain.OptionSet:
		return val
	case domain.Number:
		if i, ok := optionValue(float64(val)); ok {
			return domain.OptionSet{Value: i}
		}
	case domain.String:
		s := strings.TrimSpace(string(val))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if i, ok := optionValue(f); ok {
				return domain.OptionSet{Value: i}
			}
		}
	}
	return domain.Null{}
}

// optionValue truncates f to an option set value. Choice values are 32-bit,
// so anything non-finite or outside that range has no representation.
func optionValue(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Trunc(f)
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
