package records

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/agentstation/utc"
)

// FieldType is the coercion target of a canonical field.
type FieldType string

// Supported field types.
const (
	TypeString         FieldType = "string"
	TypeInt            FieldType = "int"
	TypeDate           FieldType = "date"
	TypeNullableString FieldType = "nullable_string"
)

// Valid reports whether t is a supported field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeDate, TypeNullableString:
		return true
	}
	return false
}

// Value is a typed canonical field value.
type Value struct {
	Type FieldType
	Str  string
	Int  int64
	Time utc.Time
	Null bool
}

// StringValue returns a string value.
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }

// IntValue returns an integer value.
func IntValue(n int64) Value { return Value{Type: TypeInt, Int: n} }

// DateValue returns a date value normalized to UTC.
func DateValue(t time.Time) Value { return Value{Type: TypeDate, Time: utc.Time{Time: t.UTC()}} }

// NullValue returns an explicit null of a nullable string field.
func NullValue() Value { return Value{Type: TypeNullableString, Null: true} }

// String returns the canonical text form used for hashing and display.
func (v Value) String() string {
	switch {
	case v.Null:
		return ""
	case v.Type == TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case v.Type == TypeDate:
		return v.Time.Time.UTC().Format(time.RFC3339)
	default:
		return v.Str
	}
}

// Any returns the JSON-friendly document form of the value.
func (v Value) Any() any {
	switch {
	case v.Null:
		return nil
	case v.Type == TypeInt:
		return v.Int
	case v.Type == TypeDate:
		return v.String()
	default:
		return v.Str
	}
}

// Canonical renders a document field value the same way Value.String
// renders the typed value it came from, so hashes computed from stored
// documents agree with hashes computed from fresh records.
func Canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case Value:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
