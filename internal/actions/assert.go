package actions

import (
	"context"
	"strings"

	"github.com/rendis/maestro/internal/expressions"
	"github.com/rendis/maestro/pkg/schema"
)

// AssertAction checks a value with the shared truthiness rule. It never
// returns an error; both a failed check and a bad message are failed results.
func AssertAction() *ActionDefinition {
	return &ActionDefinition{
		Name:        "assert",
		Description: "Assert that a condition is truthy (or falsy with not: true)",
		Inputs: map[string]schema.InputSpec{
			"condition": {Type: schema.TypeAny, Description: "value to check; objects with a boolean success or passed field use that field"},
			"message":   {Type: schema.TypeString, Required: true, Description: "human-readable description of the assertion"},
			"not":       {Type: schema.TypeBoolean, Default: false, Description: "expect a falsy condition instead"},
		},
		Outputs: map[string]schema.OutputSpec{
			"passed":    {Type: schema.TypeBoolean},
			"expected":  {Type: schema.TypeBoolean},
			"actual":    {Type: schema.TypeBoolean},
			"condition": {Type: schema.TypeAny},
		},
		Handler: runAssert,
	}
}

func runAssert(_ context.Context, inputs map[string]any, _ ActionContext) (*schema.ActionResult, error) {
	message, _ := inputs["message"].(string)
	if strings.TrimSpace(message) == "" {
		return Fail("Invalid assertion", "assert: 'message' is required and must not be empty", nil), nil
	}

	condition := inputs["condition"]
	outcome := expressions.Check(condition, boolParam(inputs, "not", false))

	data := map[string]any{
		"passed":    outcome.Passed,
		"expected":  outcome.Expected,
		"actual":    outcome.Actual,
		"condition": condition,
	}

	if !outcome.Passed {
		msg := "Assertion failed: " + message
		return Fail(msg, msg, data), nil
	}
	return Succeed("Assertion passed: "+message, data), nil
}
