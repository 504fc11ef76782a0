package expressions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// templateExpr matches a single {{ path }} placeholder. Braces are not
// allowed inside the placeholder, so an unclosed "{{" never matches and is
// left as literal text.
var templateExpr = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// HasTemplate reports whether s contains at least one {{ }} placeholder.
func HasTemplate(s string) bool {
	return templateExpr.MatchString(s)
}

// TemplatePaths returns the raw path of every placeholder in s, in order.
func TemplatePaths(s string) []string {
	matches := templateExpr.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m[1]
	}
	return paths
}

// Substitute walks v and resolves every {{ }} placeholder found in string
// leaves against scope. The input is never mutated; maps and slices are
// rebuilt.
//
// A string that is exactly one placeholder is replaced by the resolved value
// with its type preserved. Placeholders embedded in a longer string are
// stringified in place.
func Substitute(v any, scope *Scope) any {
	switch val := v.(type) {
	case string:
		return SubstituteString(val, scope)
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Substitute(item, scope)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Substitute(item, scope)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SubstituteString(item, scope)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = SubstituteString(item, scope)
		}
		return out
	default:
		return v
	}
}

// SubstituteMap is Substitute for the common inputs shape.
func SubstituteMap(m map[string]any, scope *Scope) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out, _ := Substitute(m, scope).(map[string]any)
	return out
}

// SubstituteString resolves placeholders in a single string.
func SubstituteString(s string, scope *Scope) any {
	if !strings.Contains(s, "{{") {
		return s
	}

	if path, ok := wholeTemplate(s); ok {
		val, _ := Resolve(path, scope)
		return val
	}

	return templateExpr.ReplaceAllStringFunc(s, func(match string) string {
		sub := templateExpr.FindStringSubmatch(match)
		val, _ := Resolve(sub[1], scope)
		return Stringify(val)
	})
}

// wholeTemplate returns the path when s (ignoring surrounding whitespace)
// consists of exactly one placeholder.
func wholeTemplate(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	locs := templateExpr.FindAllStringSubmatchIndex(trimmed, -1)
	if len(locs) != 1 {
		return "", false
	}
	loc := locs[0]
	if loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}
	return trimmed[loc[2]:loc[3]], true
}

// Resolve looks up a dotted path such as "variables.build.output[0].name".
// The first segment may name a namespace (variables, inputs, context); any
// other first segment is looked up in variables. The boolean is false when
// some segment does not exist.
func Resolve(path string, scope *Scope) (any, bool) {
	segments, err := ParsePath(path)
	if err != nil || len(segments) == 0 {
		return nil, false
	}
	if scope == nil {
		scope = &Scope{}
	}

	var root any
	switch segments[0] {
	case NamespaceVariables:
		root, segments = scope.Variables, segments[1:]
	case NamespaceInputs:
		root, segments = scope.Inputs, segments[1:]
	case NamespaceContext:
		root, segments = scope.Context, segments[1:]
	default:
		root = scope.Variables
	}
	if root == nil {
		return nil, false
	}
	return traverse(root, segments)
}

// ParsePath splits a path into segments. Dots separate keys; "[n]" indexes
// into an array and is returned as its own segment.
func ParsePath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '.':
			if cur.Len() == 0 && (i == 0 || path[i-1] != ']') {
				return nil, fmt.Errorf("empty segment at offset %d in %q", i, path)
			}
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end == -1 {
				return nil, fmt.Errorf("unclosed '[' in %q", path)
			}
			idx := strings.Trim(path[i+1:i+end], `"' `)
			if idx == "" {
				return nil, fmt.Errorf("empty index in %q", path)
			}
			segments = append(segments, idx)
			i += end
		case ' ', '\t':
			return nil, fmt.Errorf("unexpected whitespace in %q", path)
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() == 0 && strings.HasSuffix(path, ".") {
		return nil, fmt.Errorf("trailing '.' in %q", path)
	}
	flush()
	return segments, nil
}

func traverse(current any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		case nil:
			return nil, false
		default:
			next, ok := reflectStep(v, seg)
			if !ok {
				return nil, false
			}
			current = next
		}
	}
	return current, true
}

// reflectStep descends one segment into typed handler data: string-keyed
// maps, slices, arrays and structs, following pointers. Field values keep
// their Go type.
func reflectStep(v any, seg string) (any, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		keyType := rv.Type().Key()
		if keyType.Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(seg).Convert(keyType))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	case reflect.Struct:
		return structField(rv, seg)
	default:
		return nil, false
	}
}

// structField finds the exported field named seg, matching the json tag
// first and then the field name case-insensitively. Untagged embedded
// structs are searched too.
func structField(rv reflect.Value, seg string) (any, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}
		if tag == "" && f.Anonymous {
			fv := rv.Field(i)
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				if val, ok := structField(fv, seg); ok {
					return val, true
				}
				continue
			}
		}
		if tag == seg || (tag == "" && strings.EqualFold(f.Name, seg)) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// Stringify renders a resolved value for in-string interpolation.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case json.Number:
		return v.String()
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
