package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/maestro/internal/expressions"
	"github.com/rendis/maestro/pkg/schema"
)

// validateSemantic performs the checks JSON Schema cannot express: action
// names registered, template paths well formed, store_as reuse, blank
// conditions and nested on_failure blocks.
func validateSemantic(pb *schema.Playbook, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	bound := make(map[string]string)

	for i := range pb.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		step := &pb.Steps[i]
		validateStep(pb, step, path, lookup, bound, result)

		for j := range step.OnFailure {
			subPath := fmt.Sprintf("%s.on_failure[%d]", path, j)
			sub := &step.OnFailure[j]
			validateStep(pb, sub, subPath, lookup, bound, result)

			if len(sub.OnFailure) > 0 {
				result.AddWarning(subPath+".on_failure", schema.ErrCodeValidation,
					"on_failure inside a failure handler is ignored at runtime")
			}
		}
	}

	return result
}

// validateStep checks one step. bound tracks store_as names seen so far,
// mapped to the path that first bound them.
func validateStep(pb *schema.Playbook, step *schema.PlaybookStep, path string, lookup ActionLookup, bound map[string]string, result *schema.ValidationResult) {
	if step.Action != "" && lookup != nil && !lookup.Has(step.Action) {
		result.AddError(path+".action", schema.ErrCodeNotFound,
			fmt.Sprintf("action '%s' is not registered", step.Action))
	}

	if step.Condition != "" && strings.TrimSpace(step.Condition) == "" {
		result.AddWarning(path+".condition", schema.ErrCodeValidation,
			"condition is blank; the step always runs")
	}
	if step.Condition != "" {
		checkTemplates(pb, step.Condition, path+".condition", bound, result)
	}

	walkStrings(step.Inputs, path+".inputs", func(p, s string) {
		checkTemplates(pb, s, p, bound, result)
	})

	if step.StoreAs != "" {
		if first, dup := bound[step.StoreAs]; dup {
			result.AddWarning(path+".store_as", schema.ErrCodeValidation,
				fmt.Sprintf("store_as %q overwrites the binding from %s", step.StoreAs, first))
		} else {
			bound[step.StoreAs] = path
		}
	}
}

// checkTemplates reports malformed placeholders as errors, and references to
// undeclared playbook inputs or to variables no earlier step binds as
// warnings. Variables may also come from the caller, hence only a warning.
func checkTemplates(pb *schema.Playbook, s, path string, bound map[string]string, result *schema.ValidationResult) {
	for _, raw := range expressions.TemplatePaths(s) {
		segments, err := expressions.ParsePath(raw)
		if err != nil {
			result.AddError(path, schema.ErrCodeInterpolation,
				fmt.Sprintf("invalid template {{ %s }}: %v", raw, err))
			continue
		}

		switch segments[0] {
		case expressions.NamespaceInputs:
			if len(segments) < 2 {
				continue
			}
			if _, ok := pb.Inputs[segments[1]]; !ok {
				result.AddWarning(path, schema.ErrCodeInterpolation,
					fmt.Sprintf("template references undeclared input %q", segments[1]))
			}
		case expressions.NamespaceContext:
			// cwd, session_id and run_id are always present.
		case expressions.NamespaceVariables:
			if len(segments) >= 2 {
				warnUnbound(segments[1], path, bound, result)
			}
		default:
			warnUnbound(segments[0], path, bound, result)
		}
	}
}

func warnUnbound(name, path string, bound map[string]string, result *schema.ValidationResult) {
	if _, ok := bound[name]; ok {
		return
	}
	result.AddWarning(path, schema.ErrCodeInterpolation,
		fmt.Sprintf("variable %q is not bound by an earlier store_as", name))
}

// walkStrings visits every string leaf of v in key order.
func walkStrings(v any, path string, fn func(path, s string)) {
	switch val := v.(type) {
	case string:
		fn(path, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkStrings(val[k], path+"."+k, fn)
		}
	case []any:
		for i, item := range val {
			walkStrings(item, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}
