package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/maestro/pkg/schema"
)

// Run is the persisted form of one playbook execution.
type Run struct {
	ID              string                       `json:"id"`
	Playbook        string                       `json:"playbook"`
	Source          string                       `json:"source,omitempty"`
	Status          schema.RunStatus             `json:"status"`
	Success         bool                         `json:"success"`
	SessionID       string                       `json:"session_id,omitempty"`
	Cwd             string                       `json:"cwd,omitempty"`
	TotalSteps      int                          `json:"total_steps"`
	SuccessfulSteps int                          `json:"successful_steps"`
	FailedSteps     int                          `json:"failed_steps"`
	SkippedSteps    int                          `json:"skipped_steps"`
	Inputs          map[string]any               `json:"inputs,omitempty"`
	Variables       map[string]any               `json:"variables,omitempty"`
	ElapsedMs       int64                        `json:"elapsed_ms"`
	StartedAt       time.Time                    `json:"started_at"`
	CompletedAt     time.Time                    `json:"completed_at"`
	CreatedAt       time.Time                    `json:"created_at"`
	Steps           []schema.StepExecutionResult `json:"steps,omitempty"`
}

// RunMeta carries the invocation details that are not part of the result.
type RunMeta struct {
	Source    string
	SessionID string
	Cwd       string
	Inputs    map[string]any
}

// NewRun builds a history record from an execution result.
func NewRun(res *schema.PlaybookExecutionResult, meta RunMeta) *Run {
	return &Run{
		ID:              res.RunID,
		Playbook:        res.Playbook,
		Source:          meta.Source,
		Status:          res.Status,
		Success:         res.Success,
		SessionID:       meta.SessionID,
		Cwd:             meta.Cwd,
		TotalSteps:      res.TotalSteps,
		SuccessfulSteps: res.SuccessfulSteps,
		FailedSteps:     res.FailedSteps,
		SkippedSteps:    res.SkippedSteps,
		Inputs:          meta.Inputs,
		Variables:       res.Variables,
		ElapsedMs:       res.ElapsedMs,
		StartedAt:       res.StartedAt,
		CompletedAt:     res.CompletedAt,
		Steps:           res.StepResults,
	}
}

// Result converts the record back into an execution result.
func (r *Run) Result() *schema.PlaybookExecutionResult {
	steps := r.Steps
	if steps == nil {
		steps = []schema.StepExecutionResult{}
	}
	return &schema.PlaybookExecutionResult{
		RunID:           r.ID,
		Playbook:        r.Playbook,
		Status:          r.Status,
		Success:         r.Success,
		TotalSteps:      r.TotalSteps,
		SuccessfulSteps: r.SuccessfulSteps,
		FailedSteps:     r.FailedSteps,
		SkippedSteps:    r.SkippedSteps,
		StepResults:     steps,
		Variables:       r.Variables,
		ElapsedMs:       r.ElapsedMs,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Playbook string
	Status   *schema.RunStatus
	Success  *bool
	Since    *time.Time
	Limit    int
	Offset   int
}

// Event is an immutable entry in a run's event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Step      string          `json:"step,omitempty"`
	Index     int             `json:"index"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}
