package expressions

import "context"

// Engine evaluates expressions for the expression-backed actions.
// Three implementations: Expr (logic), CEL (typed predicates), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
