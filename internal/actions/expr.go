package actions

import (
	"context"

	"github.com/rendis/maestro/internal/expressions"
	"github.com/rendis/maestro/pkg/schema"
)

// ExprActions returns the expression evaluation actions: expr.eval, cel.eval
// and jq. Each action owns its engine and therefore its compile cache.
func ExprActions() ([]*ActionDefinition, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return []*ActionDefinition{
		evalAction("expr.eval", "Evaluate an Expr expression against the run scope or explicit data", expressions.NewExprEngine()),
		evalAction("cel.eval", "Evaluate a CEL expression against the run scope or explicit data", celEngine),
		jqAction(expressions.NewGoJQEngine()),
	}, nil
}

// --- expr.eval / cel.eval ---

func evalAction(name, description string, engine expressions.Engine) *ActionDefinition {
	return &ActionDefinition{
		Name:        name,
		Description: description,
		Inputs: map[string]schema.InputSpec{
			"expression": {Type: schema.TypeString, Required: true},
			"data":       {Type: schema.TypeAny, Description: "explicit payload, exposed as `data`"},
		},
		Outputs: map[string]schema.OutputSpec{
			"result": {Type: schema.TypeAny},
		},
		Handler: func(ctx context.Context, inputs map[string]any, actx ActionContext) (*schema.ActionResult, error) {
			expression := stringParam(inputs, "expression", "")
			if expression == "" {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s requires non-empty 'expression' string parameter", name)
			}

			// The scope exposes variables, inputs and context; data is
			// only present when the step passes it.
			env := actx.Scope()
			if data, ok := inputs["data"]; ok {
				env["data"] = data
			}

			result, err := engine.Evaluate(ctx, expression, env)
			if err != nil {
				return nil, err
			}
			return Succeed(name+" evaluated", map[string]any{"result": result}), nil
		},
	}
}

// --- jq ---

func jqAction(engine *expressions.GoJQEngine) *ActionDefinition {
	return &ActionDefinition{
		Name:        "jq",
		Description: "Run a jq query over data (or the run scope when no data is given)",
		Inputs: map[string]schema.InputSpec{
			"query": {Type: schema.TypeString, Required: true},
			"data":  {Type: schema.TypeAny},
		},
		Outputs: map[string]schema.OutputSpec{
			"data": {Type: schema.TypeAny, Description: "the single result, or a list when the query yields several"},
		},
		Handler: func(ctx context.Context, inputs map[string]any, actx ActionContext) (*schema.ActionResult, error) {
			query := stringParam(inputs, "query", "")
			if query == "" {
				return nil, schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'query' string parameter")
			}

			var input any = actx.Scope()
			if data, ok := inputs["data"]; ok {
				input = data
			}

			out, err := engine.Query(ctx, query, input)
			if err != nil {
				return nil, err
			}
			return Succeed("jq query evaluated", out), nil
		},
	}
}
