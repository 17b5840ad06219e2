package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Value is a single metric: a scalar, or one value per trailing dimension when
// the scored series was N×D.
type Value struct {
	values []float64
	vector bool
}

// Scalar wraps a single float.
func Scalar(v float64) Value {
	return Value{values: []float64{v}}
}

// Vector wraps one value per dimension. The slice is copied.
func Vector(v []float64) Value {
	values := make([]float64, len(v))
	copy(values, v)
	return Value{values: values, vector: true}
}

// IsVector reports whether the value holds per-dimension results.
func (v Value) IsVector() bool { return v.vector }

// Float returns a scalar value. It returns the first element of a vector and
// 0 for the zero Value; use IsVector and Floats when the kind is not known.
func (v Value) Float() float64 {
	if len(v.values) == 0 {
		return 0
	}
	return v.values[0]
}

// Floats returns a copy of all values.
func (v Value) Floats() []float64 {
	out := make([]float64, len(v.values))
	copy(out, v.values)
	return out
}

// Equal reports whether both values have the same kind and elements.
func (v Value) Equal(o Value) bool {
	if v.vector != o.vector || len(v.values) != len(o.values) {
		return false
	}
	for i := range v.values {
		if v.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes a scalar as a number and a vector as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.vector {
		return json.Marshal(v.values)
	}
	if len(v.values) != 1 {
		return nil, fmt.Errorf("scalar value holds %d elements", len(v.values))
	}
	return json.Marshal(v.values[0])
}

// Record is a flat set of metrics keyed by a "/"-delimited namespace path,
// e.g. "pvnet/mw/no_night/Winter/mae".
type Record map[string]Value

// Set stores a value, overwriting any previous value under the same key.
func (r Record) Set(key string, v Value) {
	r[key] = v
}

// Merge copies every entry of src into r. Later writes win.
func (r Record) Merge(src Record) {
	for k, v := range src {
		r[k] = v
	}
}

// Prefixed returns a new record with prefix + "/" prepended to every key. An
// empty prefix returns an unchanged copy.
func (r Record) Prefixed(prefix string) Record {
	out := make(Record, len(r))
	prefix = strings.TrimSuffix(prefix, "/")
	for k, v := range r {
		if prefix == "" {
			out[k] = v
			continue
		}
		out[prefix+"/"+k] = v
	}
	return out
}

// Keys returns all keys in lexical order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CountContaining returns how many keys contain substr.
func (r Record) CountContaining(substr string) int {
	n := 0
	for k := range r {
		if strings.Contains(k, substr) {
			n++
		}
	}
	return n
}

// Equal reports whether both records hold identical keys and values.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
