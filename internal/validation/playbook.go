package validation

import "github.com/rendis/maestro/pkg/schema"

// PlaybookValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (registered actions, templates, store_as, on_failure nesting)
type PlaybookValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewPlaybookValidator creates a PlaybookValidator.
// lookup may be nil to skip action existence checks.
func NewPlaybookValidator(lookup ActionLookup) (*PlaybookValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &PlaybookValidator{
		jsonSchema: jsv,
		actions:    lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (pv *PlaybookValidator) Validate(pb *schema.Playbook) *schema.ValidationResult {
	if pb == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "playbook is nil")
		return r
	}

	result := validateStructural(pv.jsonSchema.ValidatePlaybook(pb))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(pb, pv.actions))
	return result
}

// ValidatePlaybook satisfies the Validator interface.
func (pv *PlaybookValidator) ValidatePlaybook(pb *schema.Playbook) error {
	return pv.Validate(pb).ToError()
}

// ValidateInputs delegates to the underlying JSONSchemaValidator.
func (pv *PlaybookValidator) ValidateInputs(inputs map[string]any, specs map[string]schema.InputSpec) error {
	return pv.jsonSchema.ValidateInputs(inputs, specs)
}

// Schema returns the underlying JSON Schema validator.
func (pv *PlaybookValidator) Schema() *JSONSchemaValidator {
	return pv.jsonSchema
}

// validateStructural converts a schema validation error into a
// ValidationResult with one issue per violation.
func validateStructural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	me, ok := err.(*schema.MaestroError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if me.Details != nil {
		if violations, ok := me.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, me.Message)
	return result
}

var (
	_ Validator = (*PlaybookValidator)(nil)
	_ Validator = (*JSONSchemaValidator)(nil)
)
