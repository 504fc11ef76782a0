package actions

import (
	"encoding/json"
	"time"
)

// Param helpers used by all action files. Inputs arrive after template
// substitution, so numbers may be int, float64 or json.Number.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

// durationParam accepts a Go duration string ("1.5s") or a number of
// milliseconds.
func durationParam(m map[string]any, key string, defaultVal time.Duration) (time.Duration, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal, true
	}
	switch d := v.(type) {
	case string:
		if d == "" {
			return defaultVal, true
		}
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case int:
		return time.Duration(d) * time.Millisecond, true
	case int64:
		return time.Duration(d) * time.Millisecond, true
	case float64:
		return time.Duration(d * float64(time.Millisecond)), true
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return 0, false
		}
		return time.Duration(f * float64(time.Millisecond)), true
	default:
		return 0, false
	}
}

func stringSliceParam(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		result := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

func stringMapParam(m map[string]any, key string) map[string]string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch raw := v.(type) {
	case map[string]string:
		return raw
	case map[string]any:
		result := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				result[k] = s
			}
		}
		return result
	default:
		return nil
	}
}
