package weather

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the JSON kind of an upstream measurement value.
type ValueKind int

const (
	ValueUndefined ValueKind = iota // field absent
	ValueNull
	ValueNumber
	ValueText
	ValueOther // bool, object or array
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueNumber:
		return "number"
	case ValueText:
		return "string"
	case ValueOther:
		return "other"
	default:
		return "undefined"
	}
}

// RawValue keeps an upstream value as received until it is coerced.
type RawValue struct {
	Kind   ValueKind
	Number float64
	Text   string
}

func NumberValue(f float64) RawValue { return RawValue{Kind: ValueNumber, Number: f} }
func TextValue(s string) RawValue    { return RawValue{Kind: ValueText, Text: s} }
func NullValue() RawValue            { return RawValue{Kind: ValueNull} }

func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*v = RawValue{}
		return nil
	}

	switch c := data[0]; {
	case c == 'n':
		*v = NullValue()
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case c == '-' || (c >= '0' && c <= '9'):
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("decode number %s: %w", data, err)
		}
		*v = NumberValue(f)
	default:
		*v = RawValue{Kind: ValueOther, Text: string(data)}
	}
	return nil
}

func (v RawValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Number)
	case ValueText:
		return json.Marshal(v.Text)
	case ValueOther:
		return []byte(v.Text), nil
	default:
		return []byte("null"), nil
	}
}

// Coerce returns the numeric reading or the reason it must be skipped:
// ErrNullValue, ErrNotNumeric or ErrUnsupportedValue.
func (v RawValue) Coerce() (float64, error) {
	switch v.Kind {
	case ValueNumber:
		return v.Number, nil
	case ValueNull:
		return 0, ErrNullValue
	case ValueText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, v.Text)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Kind)
	}
}
