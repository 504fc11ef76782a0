package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/maestro/internal/engine"
	"github.com/rendis/maestro/pkg/schema"
)

// DefaultInterval is how often the loop looks for due jobs.
const DefaultInterval = 30 * time.Second

// DefaultMaxConcurrent bounds parallel scheduled runs.
const DefaultMaxConcurrent = 4

// Job statuses recorded after each scheduled run.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
	StatusError   = "error"
)

// Job is a cron-scheduled playbook run, as configured in settings.json.
type Job struct {
	ID        string         `json:"id"`
	Cron      string         `json:"cron"`
	Playbook  string         `json:"playbook"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Cwd       string         `json:"cwd,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Disabled  bool           `json:"disabled,omitempty"`
}

// JobState is a snapshot of a job and its run bookkeeping.
type JobState struct {
	Job
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// PlaybookRunner is the interface the scheduler uses to run playbooks.
// Satisfied by the runner package (avoids import cycle).
type PlaybookRunner interface {
	RunScheduled(ctx context.Context, job Job) (*schema.PlaybookExecutionResult, error)
}

// Config tunes the scheduler loop.
type Config struct {
	Interval      time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
	// Now replaces time.Now, mainly for tests.
	Now func() time.Time
}

// Scheduler ticks on an interval and runs due jobs through a PlaybookRunner.
type Scheduler struct {
	runner   PlaybookRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	pool     *engine.WorkerPool

	mu     sync.Mutex
	jobs   map[string]*JobState
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// New validates the jobs and computes their first run times.
func New(jobs []Job, runner PlaybookRunner, cfg Config) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   cfg.Logger,
		interval: cfg.Interval,
		now:      cfg.Now,
		pool:     engine.NewWorkerPool(cfg.MaxConcurrent),
		jobs:     make(map[string]*JobState, len(jobs)),
		inflight: make(map[string]struct{}),
	}
	s.pool.OnPanic(func(v any) {
		s.logger.Error("scheduled run panicked", slog.Any("panic", v))
	})

	now := s.now().UTC()
	for _, job := range jobs {
		if job.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "scheduled job id is required")
		}
		if _, dup := s.jobs[job.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate scheduled job id %q", job.ID)
		}
		if job.Playbook == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q: playbook is required", job.ID)
		}
		next, err := s.CalculateNextRun(job.Cron, now)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q: %s", job.ID, err.Error()).WithCause(err)
		}
		s.jobs[job.ID] = &JobState{Job: job, NextRunAt: next}
	}
	return s, nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)), slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dispatches every enabled job whose next run time has passed. Runs
// happen on the pool; Tick does not wait for them. A job that is still
// running, or that finds the pool full, is left for a later tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now().UTC()
	dispatched := 0

	for _, state := range s.dueJobs(now) {
		job := state.Job
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.pool.TrySubmit(ctx, func(ctx context.Context) error {
			defer s.releaseJob(job.ID)
			return s.runJob(ctx, job, now)
		})
		if err != nil {
			s.releaseJob(job.ID)
			s.logger.Warn("scheduled job deferred", slog.String("job_id", job.ID), slog.String("reason", err.Error()))
			continue
		}
		s.advance(job.ID, now)
		dispatched++
	}
	return dispatched
}

func (s *Scheduler) dueJobs(now time.Time) []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []JobState
	for _, st := range s.jobs {
		if st.Disabled || st.NextRunAt.After(now) {
			continue
		}
		due = append(due, *st)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// advance moves a dispatched job's next run time past now.
func (s *Scheduler) advance(jobID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return
	}
	if next, err := s.CalculateNextRun(st.Cron, now); err == nil {
		st.NextRunAt = next
	}
	last := now
	st.LastRunAt = &last
}

// runJob executes a job and records its outcome.
func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) error {
	s.logger.Info("running scheduled job", slog.String("job_id", job.ID), slog.String("playbook", job.Playbook))

	res, err := s.runner.RunScheduled(ctx, job)
	status, runID, errMsg := StatusSuccess, "", ""
	switch {
	case err != nil:
		status, errMsg = StatusError, err.Error()
	case res == nil:
		status, errMsg = StatusError, "runner returned no result"
	case res.Aborted():
		status, runID = StatusAborted, res.RunID
	case !res.Success:
		status, runID = StatusFailed, res.RunID
	default:
		runID = res.RunID
	}

	s.mu.Lock()
	if st, ok := s.jobs[job.ID]; ok {
		st.LastStatus = status
		st.LastRunID = runID
		st.LastError = errMsg
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job execution failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduled job finished",
		slog.String("job_id", job.ID), slog.String("status", status), slog.String("run_id", runID))
	if status != StatusSuccess {
		return fmt.Errorf("job %s: %s", job.ID, status)
	}
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a five-field cron
// expression (descriptors such as @hourly are accepted too).
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Jobs returns a snapshot of all jobs ordered by ID.
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until every dispatched run has finished.
func (s *Scheduler) Wait() {
	s.pool.Wait()
}

// Metrics exposes the run pool counters.
func (s *Scheduler) Metrics() engine.PoolMetrics {
	return s.pool.Metrics()
}

// Stop halts the loop and waits for in-flight runs. Their context is
// cancelled, so they abort at the next step boundary.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.pool.Shutdown()

	s.logger.Info("scheduler stopped")
	return nil
}
