package validation

import "github.com/rendis/maestro/pkg/schema"

// ActionLookup reports whether an action name is registered.
// *actions.Registry satisfies it.
type ActionLookup interface {
	Has(name string) bool
}

// Validator checks playbooks for correctness before execution.
// Uses JSON Schema Draft 2020-12 for structure and action inputs.
type Validator interface {
	ValidatePlaybook(pb *schema.Playbook) error
	ValidateInputs(inputs map[string]any, specs map[string]schema.InputSpec) error
}
