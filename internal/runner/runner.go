package runner

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/maestro/internal/engine"
	"github.com/rendis/maestro/internal/logging"
	"github.com/rendis/maestro/internal/playbook"
	"github.com/rendis/maestro/internal/scheduler"
	"github.com/rendis/maestro/internal/store"
	"github.com/rendis/maestro/pkg/schema"
)

// SourceInline marks playbooks that were passed as a document rather than a file.
const SourceInline = "inline"

// Validator checks a playbook before it runs.
type Validator interface {
	Validate(pb *schema.Playbook) *schema.ValidationResult
}

// Deps holds what a Runner needs. Store and Validator are optional.
type Deps struct {
	Executor  *engine.Executor
	Validator Validator
	Store     store.Store
	Logger    *slog.Logger
}

// Request describes one playbook run.
type Request struct {
	Playbook  *schema.Playbook
	Source    string
	RunID     string
	Inputs    map[string]any
	Variables map[string]any
	Cwd       string
	SessionID string
	NoHistory bool

	OnStepStart    func(step schema.PlaybookStep, index int)
	OnStepComplete func(result schema.StepExecutionResult, index int)
}

// Runner validates, executes and records playbook runs. It is shared by the
// CLI, the MCP server and the scheduler.
type Runner struct {
	executor  *engine.Executor
	validator Validator
	store     store.Store
	logger    *slog.Logger
}

// New creates a Runner.
func New(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		executor:  deps.Executor,
		validator: deps.Validator,
		store:     deps.Store,
		logger:    logger,
	}
}

// Run executes req. The error return covers problems that prevent the run
// from starting (invalid playbook, missing inputs). Step failures and aborts
// are reported through the result.
func (r *Runner) Run(ctx context.Context, req Request) (*schema.PlaybookExecutionResult, error) {
	if req.Playbook == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "playbook is required")
	}
	if r.validator != nil {
		vr := r.validator.Validate(req.Playbook)
		if err := vr.ToError(); err != nil {
			return nil, err
		}
		for _, w := range vr.Warnings {
			r.logger.Warn("playbook warning",
				slog.String("playbook", req.Playbook.Name),
				slog.String("path", w.Path),
				slog.String("message", w.Message))
		}
	}

	inputs, err := playbook.ResolveInputs(req.Playbook, req.Inputs)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	res := r.executor.ExecutePlaybook(ctx, req.Playbook, engine.Options{
		RunID:          runID,
		Cwd:            req.Cwd,
		SessionID:      req.SessionID,
		Variables:      req.Variables,
		Inputs:         inputs,
		OnStepStart:    req.OnStepStart,
		OnStepComplete: req.OnStepComplete,
	})

	if r.store != nil && !req.NoHistory {
		r.save(ctx, res, store.RunMeta{
			Source:    req.Source,
			SessionID: req.SessionID,
			Cwd:       req.Cwd,
			Inputs:    inputs,
		})
	}
	return res, nil
}

// RunFile loads the playbook at path and runs it.
func (r *Runner) RunFile(ctx context.Context, path string, req Request) (*schema.PlaybookExecutionResult, error) {
	pb, err := playbook.LoadFile(path)
	if err != nil {
		return nil, err
	}
	req.Playbook = pb
	if req.Source == "" {
		req.Source = path
	}
	return r.Run(ctx, req)
}

// RunScheduled satisfies scheduler.PlaybookRunner.
func (r *Runner) RunScheduled(ctx context.Context, job scheduler.Job) (*schema.PlaybookExecutionResult, error) {
	return r.RunFile(ctx, job.Playbook, Request{
		Source:    job.Playbook,
		Inputs:    job.Inputs,
		Variables: job.Variables,
		Cwd:       job.Cwd,
		SessionID: job.SessionID,
	})
}

// save persists a finished run. History is best effort: a failing store
// never changes the run outcome.
func (r *Runner) save(ctx context.Context, res *schema.PlaybookExecutionResult, meta store.RunMeta) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SaveRun(ctx, store.NewRun(res, meta)); err != nil {
		logging.LogWith(logging.WithRunID(ctx, res.RunID), r.logger).Warn("failed to save run history",
			slog.String("error", err.Error()))
	}
}
