package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/maestro/internal/streaming"
	"github.com/rendis/maestro/pkg/schema"
)

// TransitionHook is called before or after a run state transition.
type TransitionHook func(runID string, from, to schema.RunStatus) error

type runHookKey struct {
	from, to schema.RunStatus
}

// ValidRunTransitions defines the allowed state transitions for a playbook run.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusAborted},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusAborted},
	schema.RunStatusCompleted: {},
	schema.RunStatusAborted:   {},
}

// RunFSM manages the lifecycle of playbook runs. Transitions are validated
// against ValidRunTransitions and published to the hub when one is set.
type RunFSM struct {
	mu     sync.Mutex
	hub    streaming.EventHub
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM. hub may be nil.
func NewRunFSM(hub streaming.EventHub) *RunFSM {
	return &RunFSM{
		hub:    hub,
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition. A hook error
// rejects the transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and performs a run state transition, then emits the
// matching run event. The caller owns the run's current status.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !IsValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(runID, from, to); err != nil {
			return err
		}
	}

	var emitErr error
	if eventType := runEventType(to); eventType != "" && f.hub != nil {
		event := streaming.StreamEvent{RunID: runID, EventType: eventType, Payload: payload}
		if err := f.hub.Publish(ctx, event); err != nil {
			emitErr = schema.NewErrorf(schema.ErrCodeExecution, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(runID, from, to); err != nil {
			return err
		}
	}

	return emitErr
}

// IsValidRunTransition reports whether from -> to is allowed.
func IsValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusAborted:
		return schema.EventRunAborted
	default:
		return ""
	}
}
