package actions

import (
	"context"
	"math"
	"testing"

	"github.com/rendis/maestro/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execAssert(t *testing.T, inputs map[string]any) *schema.ActionResult {
	t.Helper()
	res, err := AssertAction().Handler(context.Background(), inputs, ActionContext{})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestAssert_Truthiness(t *testing.T) {
	tests := []struct {
		name      string
		condition any
		want      bool
	}{
		{"true", true, true},
		{"false", false, false},
		{"nil", nil, false},
		{"NaN", math.NaN(), false},
		{"zero", 0, false},
		{"one", 1, true},
		{"empty string", "", false},
		{"string false", "false", false},
		{"string 0", "0", false},
		{"string yes", "yes", true},
		{"empty array", []any{}, false},
		{"array", []any{false}, true},
		{"plain object", map[string]any{"k": "v"}, true},
		{"success false", map[string]any{"success": false, "k": "v"}, false},
		{"success true", map[string]any{"success": true}, true},
		{"passed false", map[string]any{"passed": false}, false},
		{"passed true", map[string]any{"passed": true}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := execAssert(t, map[string]any{"condition": tc.condition, "message": "check"})
			assert.Equal(t, tc.want, res.Success)

			data := res.Data.(map[string]any)
			assert.Equal(t, tc.want, data["passed"])
			assert.Equal(t, tc.want, data["actual"])
			assert.Equal(t, true, data["expected"])
		})
	}
}

func TestAssert_NotInverts(t *testing.T) {
	res := execAssert(t, map[string]any{"condition": "false", "message": "must be off", "not": true})
	assert.True(t, res.Success)
	assert.Equal(t, "Assertion passed: must be off", res.Message)

	data := res.Data.(map[string]any)
	assert.Equal(t, false, data["expected"])
	assert.Equal(t, false, data["actual"])
	assert.Equal(t, "false", data["condition"])

	res = execAssert(t, map[string]any{"condition": true, "message": "must be off", "not": true})
	assert.False(t, res.Success)
	assert.Equal(t, "Assertion failed: must be off", res.Error)
}

func TestAssert_Messages(t *testing.T) {
	res := execAssert(t, map[string]any{"condition": 1, "message": "build is green"})
	assert.Equal(t, "Assertion passed: build is green", res.Message)
	assert.Empty(t, res.Error)

	res = execAssert(t, map[string]any{"condition": 0, "message": "build is green"})
	assert.Equal(t, "Assertion failed: build is green", res.Message)
	assert.Equal(t, "Assertion failed: build is green", res.Error)
}

func TestAssert_EmptyMessage(t *testing.T) {
	for _, msg := range []any{"", "   \t", nil, 42} {
		res := execAssert(t, map[string]any{"condition": true, "message": msg})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "message")
	}

	res := execAssert(t, map[string]any{"condition": true})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "message")
}
