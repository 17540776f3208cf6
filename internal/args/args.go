// Package args implements the free-form argument tree that every
// bridge role carries alongside its messages: a recursive value of
// scalars, string-keyed mappings, and sequences, loaded from YAML
// config and from JSON envelope payloads interchangeably.
//
// Values are treated as immutable; Merge and the template engine
// always operate on deep copies so that a tree shared between
// goroutines is never written to.
package args

import (
	"encoding/json"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Value is a tagged free-form tree node. The zero Value is null.
//
// Internally it wraps the result of yaml.v3 or encoding/json
// unmarshalling into any: string, bool, int/int64/uint64, float64,
// map[string]any, []any, or nil.
type Value struct {
	v any
}

// FromAny wraps a raw unmarshalled tree in a Value.
func FromAny(v any) Value {
	return Value{v: v}
}

// Raw returns the underlying tree.
func (v Value) Raw() any {
	return v.v
}

// IsNil reports whether the value is null.
func (v Value) IsNil() bool {
	return v.v == nil
}

// IsMapping reports whether the value is a string-keyed mapping.
func (v Value) IsMapping() bool {
	_, ok := v.v.(map[string]any)
	return ok
}

// Get returns the child at a top-level mapping key.
func (v Value) Get(key string) (Value, bool) {
	m, ok := v.v.(map[string]any)
	if !ok {
		return Value{}, false
	}
	child, ok := m[key]
	if !ok {
		return Value{}, false
	}
	return Value{v: child}, true
}

// AsString returns the value as a string if it is one.
func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// AsInt returns the value as an int64. Integer-typed scalars convert
// directly; floats convert only when they carry no fractional part,
// which is how JSON-decoded integers (always float64 in Go) come back.
func (v Value) AsInt() (int64, bool) {
	switch n := v.v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// AsBool returns the value as a bool if it is one.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// AsFloat returns the value as a float64 if it is numeric.
func (v Value) AsFloat() (float64, bool) {
	switch n := v.v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	return Value{v: deepCopy(v.v)}
}

// Set returns a copy of the value with the top-level key set. A null
// value becomes a one-key mapping; a non-mapping value is returned
// unchanged.
func (v Value) Set(key string, child any) Value {
	switch m := v.v.(type) {
	case map[string]any:
		out := make(map[string]any, len(m)+1)
		for k, cv := range m {
			out[k] = deepCopy(cv)
		}
		out[key] = deepCopy(child)
		return Value{v: out}
	case nil:
		return Value{v: map[string]any{key: deepCopy(child)}}
	default:
		return v
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, cv := range t {
			out[k] = deepCopy(cv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, cv := range t {
			out[i] = deepCopy(cv)
		}
		return out
	default:
		return t
	}
}

// Merge shallow-merges new over original: for mappings, every
// top-level key of new overwrites the corresponding key of original;
// nested mappings are not merged recursively. A null original yields
// new when new is a mapping; any other combination keeps original.
// The result is always a deep copy.
func Merge(original, new Value) Value {
	om, ook := original.v.(map[string]any)
	nm, nok := new.v.(map[string]any)

	switch {
	case ook && nok:
		out := make(map[string]any, len(om)+len(nm))
		for k, v := range om {
			out[k] = deepCopy(v)
		}
		for k, v := range nm {
			out[k] = deepCopy(v)
		}
		return Value{v: out}
	case original.v == nil && nok:
		return new.Clone()
	default:
		return original.Clone()
	}
}

// Scalar is the set of types the coerced reader can produce.
type Scalar interface {
	~string | ~int | ~int64 | ~float64 | ~bool
}

// Get reads a scalar from the top-level key of args and coerces it to
// T, falling back to def on any failure. Coercion follows the
// string → int → bool → float fallback chain: whichever scalar shape
// the stored value has is rendered to its canonical text and re-parsed
// as T.
func Get[T Scalar](a Value, key string, def T) T {
	child, ok := a.Get(key)
	if !ok {
		return def
	}

	var text string
	if s, ok := child.AsString(); ok {
		text = s
	} else if n, ok := child.AsInt(); ok {
		text = strconv.FormatInt(n, 10)
	} else if b, ok := child.AsBool(); ok {
		text = strconv.FormatBool(b)
	} else if f, ok := child.AsFloat(); ok {
		text = strconv.FormatFloat(f, 'f', -1, 64)
	} else {
		return def
	}

	out, err := parseScalar[T](text)
	if err != nil {
		return def
	}
	return out
}

func parseScalar[T Scalar](text string) (T, error) {
	var zero T
	switch any(zero).(type) {
	case string:
		return any(text).(T), nil
	case int:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return zero, err
		}
		return any(int(n)).(T), nil
	case int64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return zero, err
		}
		return any(n).(T), nil
	case float64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return zero, err
		}
		return any(f).(T), nil
	case bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return zero, err
		}
		return any(b).(T), nil
	}
	return zero, strconv.ErrSyntax
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v.v = normalize(raw)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (any, error) {
	return v.v, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.v = raw
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

// normalize rewrites map[any]any nodes (produced by yaml for
// non-string keys) into string-keyed mappings so that the rest of the
// package sees a single mapping shape.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, cv := range t {
			t[k] = normalize(cv)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, cv := range t {
			ks, ok := k.(string)
			if !ok {
				ks = stringifyKey(k)
			}
			out[ks] = normalize(cv)
		}
		return out
	case []any:
		for i, cv := range t {
			t[i] = normalize(cv)
		}
		return t
	default:
		return t
	}
}

func stringifyKey(k any) string {
	switch t := k.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
