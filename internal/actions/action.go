package actions

import (
	"context"

	"github.com/rendis/maestro/pkg/schema"
)

// Handler executes an action. A returned error is treated the same as a
// panic: the executor converts it into a failed step carrying the error
// message. Cancellation arrives through ctx.
type Handler func(ctx context.Context, inputs map[string]any, actx ActionContext) (*schema.ActionResult, error)

// ActionDefinition is the static descriptor registered once per action name.
type ActionDefinition struct {
	Name        string
	Description string
	Inputs      map[string]schema.InputSpec
	Outputs     map[string]schema.OutputSpec
	Handler     Handler
}

// Info returns the listing view of the definition.
func (d *ActionDefinition) Info() ActionInfo {
	return ActionInfo{
		Name:        d.Name,
		Description: d.Description,
		Inputs:      d.Inputs,
		Outputs:     d.Outputs,
	}
}

// ActionContext is the read-only environment handed to every handler.
// Variables is a snapshot taken just before the step runs; handlers may
// read it freely without affecting the run.
type ActionContext struct {
	Cwd       string
	SessionID string
	RunID     string
	Variables map[string]any
	Inputs    map[string]any
}

// Scope returns the template/expression scope seen by the handler.
func (c ActionContext) Scope() map[string]any {
	vars := c.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	inputs := c.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	return map[string]any{
		"variables": vars,
		"inputs":    inputs,
		"context": map[string]any{
			"cwd":        c.Cwd,
			"session_id": c.SessionID,
			"run_id":     c.RunID,
		},
	}
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description,omitempty"`
	Inputs      map[string]schema.InputSpec  `json:"inputs,omitempty"`
	Outputs     map[string]schema.OutputSpec `json:"outputs,omitempty"`
}

// Succeed builds a successful result.
func Succeed(message string, data any) *schema.ActionResult {
	return &schema.ActionResult{Success: true, Message: message, Data: data}
}

// Fail builds a failed result. The message doubles as the error text when
// errMsg is empty.
func Fail(message, errMsg string, data any) *schema.ActionResult {
	if errMsg == "" {
		errMsg = message
	}
	return &schema.ActionResult{Success: false, Message: message, Error: errMsg, Data: data}
}
