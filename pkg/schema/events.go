package schema

// Event type constants published while a playbook runs.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunAborted   = "run_aborted"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
)

// RunStatus represents the lifecycle state of a playbook run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusAborted
}
