package expressions

import (
	"math"
	"testing"

	"github.com/rendis/maestro/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestTruthy(t *testing.T) {
	var nilPtr *schema.ActionResult
	var nilMap map[string]any

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"NaN", math.NaN(), false},
		{"false", false, false},
		{"zero int", 0, false},
		{"zero float", 0.0, false},
		{"zero uint8", uint8(0), false},
		{"empty string", "", false},
		{"string false", "false", false},
		{"string 0", "0", false},
		{"empty array", []any{}, false},
		{"empty typed slice", []string{}, false},
		{"nil pointer", nilPtr, false},
		{"nil map", nilMap, false},

		{"true", true, true},
		{"non-empty array", []any{0}, true},
		{"typed slice", []string{"a"}, true},
		{"string", "hello", true},
		{"string FALSE is case-sensitive", "FALSE", true},
		{"string with spaces", " 0 ", true},
		{"negative int", -1, true},
		{"float", 0.1, true},
		{"int64", int64(9), true},
		{"infinity", math.Inf(1), true},

		{"empty object", map[string]any{}, true},
		{"plain object", map[string]any{"a": 1}, true},
		{"success true", map[string]any{"success": true}, true},
		{"success false", map[string]any{"success": false}, false},
		{"passed false", map[string]any{"passed": false}, false},
		{"passed true", map[string]any{"passed": true}, true},
		{"success wins over passed", map[string]any{"success": true, "passed": false}, true},
		{"success not boolean falls back to passed", map[string]any{"success": "no", "passed": false}, false},
		{"non-boolean markers ignored", map[string]any{"success": "false"}, true},
		{"typed map marker", map[string]bool{"success": false}, false},
		{"struct result failed", schema.ActionResult{Success: false}, false},
		{"pointer result ok", &schema.ActionResult{Success: true}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Truthy(tc.value))
		})
	}
}

func TestCheck(t *testing.T) {
	o := Check("yes", false)
	assert.True(t, o.Actual)
	assert.True(t, o.Expected)
	assert.True(t, o.Passed)

	o = Check("yes", true)
	assert.True(t, o.Actual)
	assert.False(t, o.Expected)
	assert.False(t, o.Passed)

	o = Check("false", true)
	assert.False(t, o.Actual)
	assert.True(t, o.Passed)
}

func TestEvaluateCondition(t *testing.T) {
	scope := &Scope{Variables: map[string]any{
		"check":  map[string]any{"passed": false},
		"result": map[string]any{"success": true, "data": "x"},
		"n":      0,
		"name":   "main",
	}}

	tests := []struct {
		condition string
		want      bool
	}{
		{"", true},
		{"   ", true},
		{"true", true},
		{"false", false},
		{" false ", false},
		{"0", false},
		{"anything", true},
		{"{{ variables.check }}", false},
		{"{{ variables.result }}", true},
		{"{{ variables.n }}", false},
		{"{{ variables.missing }}", false},
		{"{{ variables.name }}", true},
		{"{{ variables.check.passed }}", false},
		{"branch-{{ variables.name }}", true},
	}

	for _, tc := range tests {
		t.Run(tc.condition, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateCondition(tc.condition, scope))
		})
	}
}
