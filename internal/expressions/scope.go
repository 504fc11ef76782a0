package expressions

import (
	"encoding/json"
	"reflect"
)

// Namespaces addressable from a template expression.
const (
	NamespaceVariables = "variables"
	NamespaceInputs    = "inputs"
	NamespaceContext   = "context"
)

// Scope holds everything a template expression or condition can see.
// Variables are the store_as bindings accumulated by the run so far.
type Scope struct {
	Variables map[string]any
	Inputs    map[string]any
	Context   map[string]any
}

// Env returns the scope as a single map keyed by namespace, the shape the
// expression engines evaluate against.
func (s *Scope) Env() map[string]any {
	env := map[string]any{
		NamespaceVariables: map[string]any{},
		NamespaceInputs:    map[string]any{},
		NamespaceContext:   map[string]any{},
	}
	if s == nil {
		return env
	}
	if s.Variables != nil {
		env[NamespaceVariables] = s.Variables
	}
	if s.Inputs != nil {
		env[NamespaceInputs] = s.Inputs
	}
	if s.Context != nil {
		env[NamespaceContext] = s.Context
	}
	return env
}

// DeepCopyMap creates a deep copy of a map[string]any.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = DeepCopy(v)
	}
	return cp
}

// DeepCopy recursively copies maps, slices and arrays, typed ones included.
// Other values are returned as is; structs and pointers are not walked.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		if val == nil {
			return val
		}
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			return copyValue(rv).Interface()
		}
		return v
	}
}

func copyValue(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		return copyValue(rv.Elem())
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			cp.Index(i).Set(copyValue(rv.Index(i)))
		}
		return cp
	case reflect.Array:
		cp := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			cp.Index(i).Set(copyValue(rv.Index(i)))
		}
		return cp
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		cp := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cp.SetMapIndex(iter.Key(), copyValue(iter.Value()))
		}
		return cp
	default:
		return rv
	}
}

// toGeneric converts an arbitrary value into the map[string]any / []any /
// float64 shape by round-tripping through JSON. Values that cannot be
// encoded are returned unchanged.
func toGeneric(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
