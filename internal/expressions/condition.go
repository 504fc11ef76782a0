package expressions

import "strings"

// EvaluateCondition decides whether a gated step should run. The condition
// is substituted against scope and the result is coerced with Truthy, so
// "false", "0" and a placeholder resolving to a falsy value all skip.
// A blank condition always passes.
func EvaluateCondition(condition string, scope *Scope) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}
	return Truthy(SubstituteString(trimmed, scope))
}
