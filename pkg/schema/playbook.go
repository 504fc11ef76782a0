package schema

import "time"

// Input types accepted in InputSpec.Type.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

// InputSpec declares one named input of an action or a playbook.
type InputSpec struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// OutputSpec documents one output field of an action. Informational only.
type OutputSpec struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Playbook is the declarative document consumed by the executor.
// Authored as YAML; the same shape is accepted as JSON.
type Playbook struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      map[string]InputSpec `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Steps       []PlaybookStep       `json:"steps" yaml:"steps"`
}

// PlaybookStep is one instruction in a playbook.
type PlaybookStep struct {
	Action          string         `json:"action" yaml:"action"`
	Name            string         `json:"name,omitempty" yaml:"name,omitempty"`
	Inputs          map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	StoreAs         string         `json:"store_as,omitempty" yaml:"store_as,omitempty"`
	Condition       string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	OnFailure       []PlaybookStep `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// Label returns the step name, falling back to the action name.
func (s PlaybookStep) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Action
}

// ActionResult is returned by every action handler.
// Success=false means the step failed; Error then carries a readable reason.
type ActionResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// StepExecutionResult is one entry of a run's ledger.
type StepExecutionResult struct {
	Step      string `json:"step"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Aborted   bool   `json:"aborted,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Failed reports whether the entry counts as a failed step.
func (r StepExecutionResult) Failed() bool {
	return !r.Success && !r.Skipped && !r.Aborted
}

// PlaybookExecutionResult summarizes one playbook run.
type PlaybookExecutionResult struct {
	RunID           string                `json:"run_id"`
	Playbook        string                `json:"playbook"`
	Status          RunStatus             `json:"status"`
	Success         bool                  `json:"success"`
	TotalSteps      int                   `json:"total_steps"`
	SuccessfulSteps int                   `json:"successful_steps"`
	FailedSteps     int                   `json:"failed_steps"`
	SkippedSteps    int                   `json:"skipped_steps"`
	StepResults     []StepExecutionResult `json:"step_results"`
	Variables       map[string]any        `json:"variables"`
	ElapsedMs       int64                 `json:"elapsed_ms"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedAt     time.Time             `json:"completed_at"`
}

// Aborted reports whether the run was cancelled before finishing.
func (r *PlaybookExecutionResult) Aborted() bool {
	return r.Status == RunStatusAborted
}
