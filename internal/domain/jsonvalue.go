package domain

import (
	"encoding/json"
	"fmt"
)

// JSONValue is a free-form JSON value: null, bool, number (float64), string,
// []JSONValue, or map[string]JSONValue. Request and response bodies are
// modelled as this sum type rather than a typed struct because endpoint
// callers control their own schema. The scheduling algebra never inspects
// body contents — only its size is ever computed, for the persistence cap.
type JSONValue struct {
	v any
}

// NewJSONValue wraps an already-decoded value (from json.Unmarshal into
// `any`) as a JSONValue. It does not validate shape; ParseJSONValue does.
func NewJSONValue(v any) JSONValue {
	return JSONValue{v: v}
}

// ParseJSONValue decodes raw JSON bytes into a JSONValue.
func ParseJSONValue(raw []byte) (JSONValue, error) {
	if len(raw) == 0 {
		return JSONValue{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return JSONValue{}, fmt.Errorf("parse json value: %w", err)
	}
	return JSONValue{v: v}, nil
}

// IsNull reports whether the value is JSON null or was never set.
func (j JSONValue) IsNull() bool {
	return j.v == nil
}

// Raw returns the underlying decoded value (nil, bool, float64, string,
// []any, or map[string]any).
func (j JSONValue) Raw() any {
	return j.v
}

// MarshalJSON implements json.Marshaler.
func (j JSONValue) MarshalJSON() ([]byte, error) {
	if j.v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(j.v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONValue) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	j.v = v
	return nil
}

// SizeBytes returns the serialised size of the value, used to enforce
// per-endpoint response-body persistence ceilings.
func (j JSONValue) SizeBytes() int {
	if j.v == nil {
		return 0
	}
	b, err := json.Marshal(j.v)
	if err != nil {
		return 0
	}
	return len(b)
}

// Equal compares two JSONValues for deep equality by comparing their
// canonical encodings.
func (j JSONValue) Equal(other JSONValue) bool {
	a, errA := json.Marshal(j.v)
	b, errB := json.Marshal(other.v)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// String renders the value as compact JSON text, used for logging and for
// building LLM prompt context.
func (j JSONValue) String() string {
	b, err := json.Marshal(j.v)
	if err != nil {
		return "null"
	}
	return string(b)
}
