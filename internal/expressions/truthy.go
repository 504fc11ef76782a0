package expressions

import (
	"encoding/json"
	"math"
	"reflect"
)

// Truthy coerces an arbitrary value to a boolean.
//
// Falsy: nil, false, NaN, numeric zero, "", "false", "0" and empty arrays.
// Objects are truthy unless they carry a boolean "success" field, or failing
// that a boolean "passed" field, in which case that field decides.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0 && !math.IsNaN(val)
	case float32:
		return val != 0 && !math.IsNaN(float64(val))
	case int:
		return val != 0
	case int64:
		return val != 0
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return false
		}
		return f != 0 && !math.IsNaN(f)
	case []any:
		return len(val) > 0
	case map[string]any:
		if val == nil {
			return false
		}
		return objectTruthy(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return Truthy(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return Truthy(rv.String())
	case reflect.Slice:
		return !rv.IsNil() && rv.Len() > 0
	case reflect.Array:
		return rv.Len() > 0
	case reflect.Map:
		if rv.IsNil() {
			return false
		}
		if m, ok := toGeneric(v).(map[string]any); ok {
			return objectTruthy(m)
		}
		return true
	case reflect.Struct:
		if m, ok := toGeneric(v).(map[string]any); ok {
			return objectTruthy(m)
		}
		return true
	case reflect.Func, reflect.Chan:
		return !rv.IsNil()
	default:
		return true
	}
}

// objectTruthy applies the pass/fail marker rule to a plain object.
func objectTruthy(m map[string]any) bool {
	if b, ok := m["success"].(bool); ok {
		return b
	}
	if b, ok := m["passed"].(bool); ok {
		return b
	}
	return true
}

// Outcome is the result of checking a value against an expectation.
type Outcome struct {
	Actual   bool // coerced truthiness of the value
	Expected bool // true, or false when negated
	Passed   bool
}

// Check coerces v and compares it with the expectation; negate flips the
// expectation to false.
func Check(v any, negate bool) Outcome {
	actual := Truthy(v)
	return Outcome{
		Actual:   actual,
		Expected: !negate,
		Passed:   actual != negate,
	}
}
