package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidValue = errors.New("custom field value is not valid")

// ValueType is the tag of the custom field value.
type ValueType string

const (
	ValueString    ValueType = "string"
	ValueNumber    ValueType = "number"
	ValueBool      ValueType = "bool"
	ValueTimestamp ValueType = "timestamp"
)

// Value is a custom field value, one of string, number, boolean or timestamp.
// The zero Value is an empty string.
type Value struct {
	kind ValueType
	str  string
	num  decimal.Decimal
	b    bool
	ts   time.Time
}

// String creates string value.
func String(s string) Value { return Value{kind: ValueString, str: s} }

// Number creates number value.
func Number(d decimal.Decimal) Value { return Value{kind: ValueNumber, num: d} }

// Bool creates boolean value.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Timestamp creates timestamp value. Time is kept in UTC with nanosecond precision.
func Timestamp(t time.Time) Value { return Value{kind: ValueTimestamp, ts: t.UTC()} }

// Type returns the value tag.
func (v Value) Type() ValueType {
	if v.kind == "" {
		return ValueString
	}
	return v.kind
}

// AsString returns string representation of any value kind.
func (v Value) AsString() string {
	switch v.Type() {
	case ValueNumber:
		return v.num.String()
	case ValueBool:
		if v.b {
			return "true"
		}
		return "false"
	case ValueTimestamp:
		return v.ts.Format(time.RFC3339Nano)
	default:
		return v.str
	}
}

// AsNumber returns number and true if value is a number.
func (v Value) AsNumber() (decimal.Decimal, bool) { return v.num, v.kind == ValueNumber }

// AsBool returns boolean and true if value is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == ValueBool }

// AsTime returns time and true if value is a timestamp.
func (v Value) AsTime() (time.Time, bool) { return v.ts, v.kind == ValueTimestamp }

// Equal compares two values.
func (v Value) Equal(o Value) bool {
	return v.Type() == o.Type() && v.AsString() == o.AsString()
}

type valueJSON struct {
	Type  ValueType `json:"type"`
	Value string    `json:"value"`
}

// MarshalJSON encodes value as {"type": ..., "value": ...} with value always a string,
// so numbers and timestamps keep exact representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueJSON{Type: v.Type(), Value: v.AsString()})
}

// UnmarshalJSON decodes value encoded by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Join(ErrInvalidValue, err)
	}
	parsed, err := parseValue(raw.Type, raw.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalYAML reads value from yaml.v2 mapping {type, value}.
// A plain scalar is read as a string.
func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw struct {
		Type  ValueType `yaml:"type"`
		Value string    `yaml:"value"`
	}
	if err := unmarshal(&raw); err != nil {
		var s string
		if errS := unmarshal(&s); errS != nil {
			return errors.Join(ErrInvalidValue, err)
		}
		*v = String(s)
		return nil
	}
	parsed, err := parseValue(raw.Type, raw.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func parseValue(kind ValueType, s string) (Value, error) {
	switch kind {
	case ValueString, "":
		return String(s), nil
	case ValueNumber:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, errors.Join(ErrInvalidValue, err)
		}
		return Number(d), nil
	case ValueBool:
		switch s {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, errors.Join(ErrInvalidValue, fmt.Errorf("bool %q", s))
	case ValueTimestamp:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, errors.Join(ErrInvalidValue, err)
		}
		return Timestamp(t), nil
	default:
		return Value{}, errors.Join(ErrInvalidValue, fmt.Errorf("unknown type %q", kind))
	}
}
