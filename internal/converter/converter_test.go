package converter

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/rpattn/fieldmap/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_NullAlwaysNull(t *testing.T) {
	for _, target := range domain.AllFieldTypes() {
		assert.Equal(t, domain.Null{}, Convert(domain.Null{}, target), "target %s", target)
		assert.Equal(t, domain.Null{}, Convert(nil, target), "target %s", target)
	}
}

func TestConvert_ToText(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	ts := time.Date(2024, 5, 17, 8, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   domain.Value
		want domain.Value
	}{
		{"true", domain.Bool(true), domain.String("Yes")},
		{"false", domain.Bool(false), domain.String("No")},
		{"integer", domain.Number(42), domain.String("42")},
		{"fraction", domain.Number(3.25), domain.String("3.25")},
		{"date", domain.DateTime{Time: ts}, domain.String("2024-05-17T08:30:00.000Z")},
		{"date raw", domain.DateTime{Time: ts, Raw: "2024-05-17T08:30:00Z"}, domain.String("2024-05-17T08:30:00Z")},
		{"lookup name", domain.Reference{ID: id, Name: "Contoso", FormattedValue: "Contoso Ltd"}, domain.String("Contoso")},
		{"lookup formatted", domain.Reference{ID: id, FormattedValue: "Contoso Ltd"}, domain.String("Contoso Ltd")},
		{"lookup id", domain.Reference{ID: id}, domain.String(id.String())},
		{"option label", domain.OptionSet{Value: 2, FormattedValue: "Gold"}, domain.String("Gold")},
		{"option value", domain.OptionSet{Value: 2}, domain.String("2")},
		{"text", domain.String("hello"), domain.String("hello")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Convert(tc.in, domain.FieldTypeText))
			assert.Equal(t, tc.want, Convert(tc.in, domain.FieldTypeMemo))
		})
	}
}

func TestConvert_ToNumber(t *testing.T) {
	assert.Equal(t, domain.Number(7), Convert(domain.Number(7), domain.FieldTypeNumber))
	assert.Equal(t, domain.Number(12.5), Convert(domain.String(" 12.5 "), domain.FieldTypeNumber))
	assert.Equal(t, domain.Number(3), Convert(domain.OptionSet{Value: 3}, domain.FieldTypeNumber))
	assert.Equal(t, domain.Null{}, Convert(domain.String("twelve"), domain.FieldTypeNumber))
	assert.Equal(t, domain.Null{}, Convert(domain.Bool(true), domain.FieldTypeNumber))
}

func TestConvert_ToBoolean(t *testing.T) {
	truthy := []domain.Value{domain.String("true"), domain.String("TRUE"), domain.String("1"), domain.String("Yes"), domain.Number(1), domain.Bool(true)}
	for _, v := range truthy {
		assert.Equal(t, domain.Bool(true), Convert(v, domain.FieldTypeBoolean), "value %#v", v)
	}

	falsy := []domain.Value{domain.String("no"), domain.String("0"), domain.String("maybe"), domain.Number(0), domain.Bool(false)}
	for _, v := range falsy {
		assert.Equal(t, domain.Bool(false), Convert(v, domain.FieldTypeBoolean), "value %#v", v)
	}
}

func TestConvert_ToDateTime(t *testing.T) {
	ts := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, domain.DateTime{Time: ts}, Convert(domain.DateTime{Time: ts}, domain.FieldTypeDateTime))

	got := Convert(domain.String("2023-01-02T03:04:05Z"), domain.FieldTypeDateTime)
	dt, ok := got.(domain.DateTime)
	require.True(t, ok)
	assert.Equal(t, "2023-01-02T03:04:05Z", dt.ISO())
	assert.True(t, dt.Time.Equal(ts))

	assert.Equal(t, domain.Null{}, Convert(domain.String("next tuesday"), domain.FieldTypeDateTime))
	assert.Equal(t, domain.Null{}, Convert(domain.Number(5), domain.FieldTypeDateTime))
}

func TestConvert_LookupPassesThrough(t *testing.T) {
	ref := domain.Reference{ID: uuid.New(), EntityType: "account", Name: "A"}
	assert.Equal(t, ref, Convert(ref, domain.FieldTypeLookup))
}

func TestConvert_ToOptionSet(t *testing.T) {
	assert.Equal(t, domain.OptionSet{Value: 4}, Convert(domain.Number(4), domain.FieldTypeOptionSet))
	assert.Equal(t, domain.OptionSet{Value: 4}, Convert(domain.Number(4.9), domain.FieldTypeOptionSet))
	assert.Equal(t, domain.OptionSet{Value: 9}, Convert(domain.String("9"), domain.FieldTypeOptionSet))
	assert.Equal(t, domain.OptionSet{Value: 1, FormattedValue: "A"}, Convert(domain.OptionSet{Value: 1, FormattedValue: "A"}, domain.FieldTypeOptionSet))
	assert.Equal(t, domain.Null{}, Convert(domain.String("gold"), domain.FieldTypeOptionSet))
}

func TestConvert_ToOptionSetOutOfRangeIsNull(t *testing.T) {
	for _, in := range []domain.Value{
		domain.Number(1e20),
		domain.Number(-1e20),
		domain.Number(math.MaxInt32 + 1),
		domain.Number(math.Inf(1)),
		domain.Number(math.NaN()),
		domain.String("1e20"),
		domain.String("9223372036854775808"),
	} {
		assert.Equal(t, domain.Null{}, Convert(in, domain.FieldTypeOptionSet), "input %v", in)
	}
	assert.Equal(t, domain.OptionSet{Value: math.MaxInt32}, Convert(domain.Number(math.MaxInt32), domain.FieldTypeOptionSet))
	assert.Equal(t, domain.OptionSet{Value: math.MinInt32}, Convert(domain.String("-2147483648"), domain.FieldTypeOptionSet))
}

func TestDecode_OptionSetOutOfRange(t *testing.T) {
	assert.Equal(t, domain.Number(1e20), Decode(1e20, domain.FieldTypeOptionSet))
	assert.Equal(t, domain.Null{}, Decode(map[string]any{"value": 1e20}, domain.FieldTypeOptionSet))
}

func TestDecode_JSONNumberKeepsTextForTextualFields(t *testing.T) {
	big := json.Number("12345678901234567890")

	assert.Equal(t, domain.String("12345678901234567890"), Decode(big, domain.FieldTypeText))
	assert.Equal(t, domain.String("12345678901234567890"), Decode(big, domain.FieldTypeMemo))
	assert.Equal(t, domain.String("12345678901234567890"), Convert(Decode(big, domain.FieldTypeText), domain.FieldTypeText))
	assert.Equal(t, domain.Number(12345678901234567890), Decode(big, domain.FieldTypeNumber))
}

func TestConvertDefault(t *testing.T) {
	assert.Equal(t, domain.Number(100), ConvertDefault("100", domain.FieldTypeNumber))
	assert.Equal(t, domain.Bool(true), ConvertDefault("yes", domain.FieldTypeBoolean))
	assert.Equal(t, domain.OptionSet{Value: 3}, ConvertDefault("3", domain.FieldTypeOptionSet))
	assert.Equal(t, domain.String("n/a"), ConvertDefault("n/a", domain.FieldTypeText))

	id := uuid.New()
	assert.Equal(t, domain.Reference{ID: id}, ConvertDefault(id.String(), domain.FieldTypeLookup))
}

func TestDecode(t *testing.T) {
	id := uuid.New()

	assert.Equal(t, domain.Null{}, Decode(nil, domain.FieldTypeText))
	assert.Equal(t, domain.Bool(true), Decode(true, domain.FieldTypeBoolean))
	assert.Equal(t, domain.Number(5), Decode(int64(5), domain.FieldTypeNumber))
	assert.Equal(t, domain.Number(2.5), Decode(json.Number("2.5"), domain.FieldTypeNumber))
	assert.Equal(t, domain.OptionSet{Value: 2}, Decode(2, domain.FieldTypeOptionSet))
	assert.Equal(t, domain.Reference{ID: id}, Decode(id, domain.FieldTypeLookup))
	assert.Equal(t, domain.Reference{ID: id}, Decode(id.String(), domain.FieldTypeLookup))
	assert.Equal(t, domain.String("plain"), Decode("plain", domain.FieldTypeLookup))

	obj := map[string]any{
		"id":         id.String(),
		"entityType": "account",
		"_parentaccountid_value" + formattedValueSuffix: "Fabrikam",
	}
	assert.Equal(t, domain.Reference{ID: id, EntityType: "account", FormattedValue: "Fabrikam"}, Decode(obj, domain.FieldTypeLookup))

	choice := map[string]any{"value": float64(3), "statuscode" + formattedValueSuffix: "Active"}
	assert.Equal(t, domain.OptionSet{Value: 3, FormattedValue: "Active"}, Decode(choice, domain.FieldTypeOptionSet))

	existing := domain.String("kept")
	assert.Equal(t, existing, Decode(existing, domain.FieldTypeNumber))
}
