package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/logflow/waitlens/internal/timeparse"
)

// AttrType tags the semantic type of an attribute value.
type AttrType uint8

const (
	AttrTypeCategorical AttrType = iota
	AttrTypeNumeric
	AttrTypeTemporal
)

func (t AttrType) String() string {
	switch t {
	case AttrTypeCategorical:
		return "categorical"
	case AttrTypeNumeric:
		return "numeric"
	case AttrTypeTemporal:
		return "temporal"
	default:
		return "unknown"
	}
}

// Value is a tagged attribute value.
type Value struct {
	Type AttrType
	Str  string
	Num  float64
	Time time.Time
}

// Categorical builds a categorical value.
func Categorical(s string) Value {
	return Value{Type: AttrTypeCategorical, Str: s}
}

// Numeric builds a numeric value.
func Numeric(f float64) Value {
	return Value{Type: AttrTypeNumeric, Num: f}
}

// Temporal builds a temporal value.
func Temporal(t time.Time) Value {
	return Value{Type: AttrTypeTemporal, Time: t}
}

// InferValue types a raw string: numbers first, then timestamps, else categorical.
func InferValue(raw string) Value {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Numeric(f)
	}
	if t, err := timeparse.Parse(s); err == nil {
		return Temporal(t)
	}
	return Categorical(s)
}

// Ordinal returns the value on a number line. Only numeric and temporal
// values are ordered; temporal values map to Unix seconds.
func (v Value) Ordinal() (float64, bool) {
	switch v.Type {
	case AttrTypeNumeric:
		return v.Num, true
	case AttrTypeTemporal:
		return float64(v.Time.UnixNano()) / 1e9, true
	default:
		return 0, false
	}
}

// Equal compares two values of the same type.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case AttrTypeNumeric:
		return v.Num == o.Num
	case AttrTypeTemporal:
		return v.Time.Equal(o.Time)
	default:
		return v.Str == o.Str
	}
}

func (v Value) String() string {
	switch v.Type {
	case AttrTypeNumeric:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case AttrTypeTemporal:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return v.Str
	}
}

// MarshalText renders the value for JSON/YAML output.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Attributes is an open mapping from attribute name to a tagged value.
type Attributes map[string]Value

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func (a Attributes) String() string {
	parts := make([]string, 0, len(a))
	for _, k := range a.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%s", k, a[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
