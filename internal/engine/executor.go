package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/maestro/internal/actions"
	"github.com/rendis/maestro/internal/expressions"
	"github.com/rendis/maestro/internal/logging"
	"github.com/rendis/maestro/internal/streaming"
	"github.com/rendis/maestro/pkg/schema"
)

// AbortedError is the error text recorded on the abort marker entry.
const AbortedError = "Aborted"

// InputValidator checks action inputs against their declared specs.
// Satisfied by *validation.JSONSchemaValidator and *validation.PlaybookValidator.
type InputValidator interface {
	ValidateInputs(inputs map[string]any, specs map[string]schema.InputSpec) error
}

// ActionOptions is the environment for a standalone ExecuteAction call.
type ActionOptions struct {
	Cwd       string
	SessionID string
	Variables map[string]any
}

// Options configures one ExecutePlaybook call. Cancelling the context passed
// alongside is the abort signal; it is observed at step boundaries only.
type Options struct {
	// RunID identifies the run. Generated when empty.
	RunID     string
	Cwd       string
	SessionID string
	Variables map[string]any
	Inputs    map[string]any

	// OnStepStart and OnStepComplete receive the zero-based ledger index.
	// Both fire for executed and skipped steps, never for the abort marker.
	OnStepStart    func(step schema.PlaybookStep, index int)
	OnStepComplete func(result schema.StepExecutionResult, index int)
}

// Executor runs single actions and whole playbooks against a Registry.
// It never returns errors for expected failure paths; every outcome is
// reported through the result types.
type Executor struct {
	registry  *actions.Registry
	logger    *slog.Logger
	hub       streaming.EventHub
	validator InputValidator
	now       func() time.Time
	fsm       *RunFSM
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPublisher publishes run and step events to hub.
func WithPublisher(hub streaming.EventHub) ExecutorOption {
	return func(e *Executor) { e.hub = hub }
}

// WithInputValidator enables schema checks of action inputs before the
// handler runs.
func WithInputValidator(v InputValidator) ExecutorOption {
	return func(e *Executor) { e.validator = v }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor creates an Executor bound to reg.
func NewExecutor(reg *actions.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: reg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = actions.NewRegistry()
	}
	e.fsm = NewRunFSM(e.hub)
	return e
}

// FSM exposes the run lifecycle machine so callers can attach hooks.
func (e *Executor) FSM() *RunFSM {
	return e.fsm
}

// ExecuteAction looks up and runs a single action outside of any playbook.
func (e *Executor) ExecuteAction(ctx context.Context, name string, inputs map[string]any, opts ActionOptions) schema.StepExecutionResult {
	actx := actions.ActionContext{
		Cwd:       opts.Cwd,
		SessionID: opts.SessionID,
		Variables: expressions.DeepCopyMap(opts.Variables),
	}
	res := e.invoke(ctx, name, inputs, actx)
	return stepResult(name, name, res)
}

// invoke performs lookup, default filling, input validation and the guarded
// handler call. It always returns a non-nil result.
func (e *Executor) invoke(ctx context.Context, name string, inputs map[string]any, actx actions.ActionContext) (res *schema.ActionResult) {
	start := e.now()
	defer func() {
		res.ElapsedMs = e.now().Sub(start).Milliseconds()
		if !res.Success && res.Error == "" {
			res.Error = res.Message
			if res.Error == "" {
				res.Error = fmt.Sprintf("action '%s' failed", name)
			}
		}
	}()

	def, ok := e.registry.Get(name)
	if !ok {
		msg := fmt.Sprintf("action '%s' is not registered", name)
		return actions.Fail(msg, msg, nil)
	}

	inputs = applyDefaults(inputs, def.Inputs)
	if e.validator != nil && len(def.Inputs) > 0 {
		if err := e.validator.ValidateInputs(inputs, def.Inputs); err != nil {
			msg := fmt.Sprintf("invalid inputs for action '%s': %s", name, errorMessage(err))
			return actions.Fail(msg, msg, nil)
		}
	}

	return e.callHandler(ctx, def, inputs, actx)
}

// callHandler runs the handler, converting errors, panics and nil results
// into failed results.
func (e *Executor) callHandler(ctx context.Context, def *actions.ActionDefinition, inputs map[string]any, actx actions.ActionContext) (res *schema.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			var msg string
			if err, ok := r.(error); ok {
				msg = err.Error()
			} else {
				msg = fmt.Sprint(r)
			}
			logging.LogWith(ctx, e.logger).Error("action panicked",
				slog.String("action", def.Name), slog.String("panic", msg))
			res = actions.Fail(msg, msg, nil)
		}
	}()

	out, err := def.Handler(ctx, inputs, actx)
	if err != nil {
		msg := errorMessage(err)
		return actions.Fail(msg, msg, nil)
	}
	if out == nil {
		msg := fmt.Sprintf("action '%s' returned no result", def.Name)
		return actions.Fail(msg, msg, nil)
	}
	cp := *out
	return &cp
}

// applyDefaults returns inputs with declared defaults filled in for absent
// keys. The caller's map is not modified.
func applyDefaults(inputs map[string]any, specs map[string]schema.InputSpec) map[string]any {
	out := make(map[string]any, len(inputs)+len(specs))
	for k, v := range inputs {
		out[k] = v
	}
	for name, spec := range specs {
		if spec.Default == nil {
			continue
		}
		if v, ok := out[name]; !ok || v == nil {
			out[name] = expressions.DeepCopy(spec.Default)
		}
	}
	return out
}

// errorMessage uses the bare message of a MaestroError returned directly.
// Wrapped errors keep their full text.
func errorMessage(err error) string {
	if me, ok := err.(*schema.MaestroError); ok {
		return me.Message
	}
	return err.Error()
}

func stepResult(label, action string, res *schema.ActionResult) schema.StepExecutionResult {
	return schema.StepExecutionResult{
		Step:      label,
		Action:    action,
		Success:   res.Success,
		Message:   res.Message,
		Data:      res.Data,
		Error:     res.Error,
		ElapsedMs: res.ElapsedMs,
	}
}

// playbookRun is the mutable state of one ExecutePlaybook call.
type playbookRun struct {
	id       string
	opts     Options
	inputs   map[string]any
	vars     map[string]any
	results  []schema.StepExecutionResult
	status   schema.RunStatus
	aborted  bool
	playbook string
}

// ExecutePlaybook runs the steps of pb in order and returns the full ledger.
// It never returns nil and never panics on handler failures.
func (e *Executor) ExecutePlaybook(ctx context.Context, pb *schema.Playbook, opts Options) *schema.PlaybookExecutionResult {
	started := e.now()
	if pb == nil {
		pb = &schema.Playbook{}
	}

	run := &playbookRun{
		id:       opts.RunID,
		opts:     opts,
		inputs:   applyDefaults(opts.Inputs, pb.Inputs),
		vars:     expressions.DeepCopyMap(opts.Variables),
		status:   schema.RunStatusPending,
		playbook: pb.Name,
	}
	if run.id == "" {
		run.id = uuid.NewString()
	}
	if run.vars == nil {
		run.vars = map[string]any{}
	}

	ctx = logging.WithIDs(ctx, run.id, opts.SessionID)
	log := logging.LogWith(ctx, e.logger)
	log.Info("playbook run started", slog.String("playbook", pb.Name), slog.Int("steps", len(pb.Steps)))

	if ctx.Err() != nil {
		if len(pb.Steps) > 0 {
			e.recordAbort(ctx, run, pb.Steps[0])
		}
		run.aborted = true
		e.transition(ctx, run, schema.RunStatusAborted, nil)
	} else {
		e.transition(ctx, run, schema.RunStatusRunning, map[string]any{"playbook": pb.Name})
		for _, step := range pb.Steps {
			if !e.runStep(ctx, run, step, false) {
				break
			}
		}
		if run.aborted {
			e.transition(ctx, run, schema.RunStatusAborted, nil)
		} else {
			e.transition(ctx, run, schema.RunStatusCompleted, nil)
		}
	}

	result := e.finalize(run, started)
	log.Info("playbook run finished",
		slog.String("status", string(result.Status)),
		slog.Bool("success", result.Success),
		slog.Int("total", result.TotalSteps),
		slog.Int("failed", result.FailedSteps),
		slog.Int("skipped", result.SkippedSteps),
		slog.Int64("elapsed_ms", result.ElapsedMs))
	return result
}

// runStep executes one ledger entry (plus its failure handlers when nested
// is false) and reports whether the run should continue.
func (e *Executor) runStep(ctx context.Context, run *playbookRun, step schema.PlaybookStep, nested bool) bool {
	if ctx.Err() != nil {
		e.recordAbort(ctx, run, step)
		return false
	}

	label := step.Label()
	stepCtx := logging.WithStep(ctx, label)
	log := logging.LogWith(stepCtx, e.logger)

	snapshot := expressions.DeepCopyMap(run.vars)
	scope := &expressions.Scope{
		Variables: snapshot,
		Inputs:    run.inputs,
		Context: map[string]any{
			"cwd":        run.opts.Cwd,
			"session_id": run.opts.SessionID,
			"run_id":     run.id,
		},
	}

	index := len(run.results)
	if run.opts.OnStepStart != nil {
		run.opts.OnStepStart(step, index)
	}
	e.publish(ctx, run, schema.EventStepStarted, label, index, map[string]any{"action": step.Action})

	if !expressions.EvaluateCondition(step.Condition, scope) {
		entry := schema.StepExecutionResult{
			Step:    label,
			Action:  step.Action,
			Success: true,
			Skipped: true,
			Message: "Skipped: condition evaluated to false",
		}
		e.complete(ctx, run, entry, index)
		log.Debug("step skipped", slog.String("condition", step.Condition))
		return true
	}

	inputs := expressions.SubstituteMap(step.Inputs, scope)
	actx := actions.ActionContext{
		Cwd:       run.opts.Cwd,
		SessionID: run.opts.SessionID,
		RunID:     run.id,
		Variables: snapshot,
		Inputs:    run.inputs,
	}
	res := e.invoke(stepCtx, step.Action, inputs, actx)
	entry := stepResult(label, step.Action, res)

	if step.StoreAs != "" {
		run.vars[step.StoreAs] = res.Data
	}
	e.complete(ctx, run, entry, index)
	log.Debug("step finished",
		slog.String("action", step.Action),
		slog.Bool("success", entry.Success),
		slog.Int64("elapsed_ms", entry.ElapsedMs))

	if entry.Success {
		return true
	}

	if !nested {
		for _, handler := range step.OnFailure {
			if !e.runStep(ctx, run, handler, true) {
				break
			}
		}
	}
	if run.aborted {
		return false
	}
	return step.ContinueOnError
}

// complete appends entry to the ledger and fires the completion hook and event.
func (e *Executor) complete(ctx context.Context, run *playbookRun, entry schema.StepExecutionResult, index int) {
	run.results = append(run.results, entry)
	if run.opts.OnStepComplete != nil {
		run.opts.OnStepComplete(entry, index)
	}

	eventType := schema.EventStepCompleted
	switch {
	case entry.Skipped:
		eventType = schema.EventStepSkipped
	case !entry.Success:
		eventType = schema.EventStepFailed
	}
	e.publish(ctx, run, eventType, entry.Step, index, entry)
}

// recordAbort appends the abort marker. Hooks are not fired for it.
func (e *Executor) recordAbort(ctx context.Context, run *playbookRun, step schema.PlaybookStep) {
	run.aborted = true
	run.results = append(run.results, schema.StepExecutionResult{
		Step:    step.Label(),
		Action:  step.Action,
		Success: false,
		Aborted: true,
		Message: AbortedError,
		Error:   AbortedError,
	})
	logging.LogWith(ctx, e.logger).Info("playbook run aborted", slog.String("next_step", step.Label()))
}

func (e *Executor) transition(ctx context.Context, run *playbookRun, to schema.RunStatus, payload any) {
	from := run.status
	if err := e.fsm.Transition(context.WithoutCancel(ctx), run.id, from, to, payload); err != nil {
		logging.LogWith(ctx, e.logger).Warn("run transition",
			slog.String("from", string(from)), slog.String("to", string(to)), slog.String("error", err.Error()))
		if schema.IsCode(err, schema.ErrCodeInvalidTransition) {
			return
		}
	}
	run.status = to
}

// publish emits a step event when a hub is configured. Failures are logged.
func (e *Executor) publish(ctx context.Context, run *playbookRun, eventType, step string, index int, payload any) {
	if e.hub == nil {
		return
	}
	event := streaming.StreamEvent{
		RunID:     run.id,
		Step:      step,
		Index:     index,
		EventType: eventType,
		Payload:   payload,
	}
	if err := e.hub.Publish(context.WithoutCancel(ctx), event); err != nil {
		logging.LogWith(ctx, e.logger).Warn("publish event failed",
			slog.String("event", eventType), slog.String("error", err.Error()))
	}
}

func (e *Executor) finalize(run *playbookRun, started time.Time) *schema.PlaybookExecutionResult {
	completed := e.now()
	res := &schema.PlaybookExecutionResult{
		RunID:       run.id,
		Playbook:    run.playbook,
		Status:      run.status,
		TotalSteps:  len(run.results),
		StepResults: run.results,
		Variables:   expressions.DeepCopyMap(run.vars),
		ElapsedMs:   completed.Sub(started).Milliseconds(),
		StartedAt:   started,
		CompletedAt: completed,
	}
	if res.StepResults == nil {
		res.StepResults = []schema.StepExecutionResult{}
	}
	for _, r := range run.results {
		switch {
		case r.Skipped:
			res.SkippedSteps++
		case r.Success:
			res.SuccessfulSteps++
		case r.Failed():
			res.FailedSteps++
		}
	}
	res.Success = res.FailedSteps == 0 && !run.aborted
	return res
}
