package playbook

import (
	"sort"
	"strings"

	"github.com/rendis/maestro/internal/expressions"
	"github.com/rendis/maestro/pkg/schema"
)

// ResolveInputs merges supplied values with the playbook's declared
// defaults. Required inputs that are still missing afterwards produce a
// VALIDATION_ERROR naming each of them. Undeclared keys pass through.
func ResolveInputs(pb *schema.Playbook, supplied map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(supplied))
	for k, v := range supplied {
		out[k] = v
	}
	if pb == nil {
		return out, nil
	}

	var missing []string
	for name, spec := range pb.Inputs {
		if v, ok := out[name]; ok && v != nil {
			continue
		}
		if spec.Default != nil {
			out[name] = expressions.DeepCopy(spec.Default)
			continue
		}
		if spec.Required {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"playbook %q: missing required inputs: %s", pb.Name, strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing": missing})
	}
	return out, nil
}

// ParseInputArgs turns key=value pairs into an inputs map. Values are
// decoded as YAML scalars, so "3" becomes 3 and "true" becomes true.
func ParseInputArgs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid input %q: expected key=value", pair)
		}
		out[key] = decodeScalar(raw)
	}
	return out, nil
}
