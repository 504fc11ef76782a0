package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/maestro/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const playbookSchemaURL = "https://maestro.dev/schemas/playbook.json"

// playbookSchemaJSON is the JSON Schema for playbook documents.
const playbookSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://maestro.dev/schemas/playbook.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "inputs": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/input" }
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "input": {
      "type": "object",
      "properties": {
        "type": {
          "type": "string",
          "enum": ["", "string", "number", "integer", "boolean", "object", "array", "any"]
        },
        "required": { "type": "boolean" },
        "default": {},
        "description": { "type": "string" }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "inputs": { "type": "object" },
        "store_as": {
          "type": "string",
          "pattern": "^[A-Za-z_][A-Za-z0-9_-]*$"
        },
        "condition": { "type": "string" },
        "continue_on_error": { "type": "boolean" },
        "on_failure": {
          "type": "array",
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates playbooks and action inputs with JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	playbookSchema *jsonschema.Schema

	// mu guards the cache for dynamic schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the playbook
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(playbookSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal playbook schema: %w", err)
	}
	if err := c.AddResource(playbookSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add playbook schema resource: %w", err)
	}

	pbSchema, err := c.Compile(playbookSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile playbook schema: %w", err)
	}

	return &JSONSchemaValidator{
		playbookSchema: pbSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidatePlaybook validates a decoded playbook against the playbook schema.
func (v *JSONSchemaValidator) ValidatePlaybook(pb *schema.Playbook) error {
	if pb == nil {
		return schema.NewError(schema.ErrCodeValidation, "playbook is nil")
	}

	doc, err := toJSONValue(pb)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize playbook").WithCause(err)
	}
	return v.ValidateDocument(doc)
}

// ValidateDocument validates a generic document (for example raw YAML
// decoded into map[string]any) against the playbook schema. Unlike
// ValidatePlaybook it also catches unknown keys.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	jv, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize playbook document").WithCause(err)
	}
	if err := v.playbookSchema.Validate(jv); err != nil {
		return toMaestroError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toMaestroError(err)
	}
	return nil
}

// ValidateInputs checks action or playbook inputs against their declared
// specs: required keys must be present and typed keys must match.
// Values of undeclared or any-typed keys are never inspected, so they may
// hold anything, including values JSON cannot encode.
func (v *JSONSchemaValidator) ValidateInputs(inputs map[string]any, specs map[string]schema.InputSpec) error {
	if len(specs) == 0 {
		return nil
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	raw, err := InputSchema(specs)
	if err != nil {
		return err
	}

	doc := make(map[string]any, len(inputs))
	for k, val := range inputs {
		if val == nil {
			// A placeholder that resolved to nothing counts as absent.
			continue
		}
		spec, declared := specs[k]
		if !declared || isAnyType(spec.Type) {
			doc[k] = true
			continue
		}
		if _, err := json.Marshal(val); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "input %q: value cannot be encoded: %v", k, err).WithCause(err)
		}
		doc[k] = val
	}

	return v.ValidateInput(doc, raw)
}

// InputSchema renders input specs as a JSON Schema object. Output is
// deterministic so it can serve as a cache key.
func InputSchema(specs map[string]schema.InputSpec) ([]byte, error) {
	properties := make(map[string]any, len(specs))
	required := make([]string, 0)
	for name, spec := range specs {
		prop := map[string]any{}
		if !isAnyType(spec.Type) {
			prop["type"] = spec.Type
		}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to render input schema").WithCause(err)
	}
	return b, nil
}

func isAnyType(t string) bool {
	return t == "" || t == schema.TypeAny
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL and a fresh compiler.
	url := fmt.Sprintf("maestro://input-schema/%d", len(v.cache))

	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler configured for input validation.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toMaestroError converts a jsonschema.ValidationError into a MaestroError
// whose message lists each violation with its location.
func toMaestroError(err error) *schema.MaestroError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors: %s", len(violations), strings.Join(violations, "; "))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
