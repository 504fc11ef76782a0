package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/maestro/internal/actions"
	"github.com/rendis/maestro/internal/engine"
	"github.com/rendis/maestro/internal/logging"
	"github.com/rendis/maestro/internal/runner"
	"github.com/rendis/maestro/internal/store"
	"github.com/rendis/maestro/internal/streaming"
	"github.com/rendis/maestro/internal/validation"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	registry  *actions.Registry
	validator *validation.PlaybookValidator
	hub       *streaming.MemoryHub
	executor  *engine.Executor
	store     *store.LibSQLStore // nil when history is off
	recorder  *store.EventRecorder
	runner    *runner.Runner
}

type appOptions struct {
	logOutput io.Writer
	openStore bool
}

// newApp wires registry → validator → executor → store → runner.
func newApp(ctx context.Context, cfg Config, opts appOptions) (*app, error) {
	if opts.logOutput == nil {
		opts.logOutput = os.Stderr
	}
	logger := logging.New(opts.logOutput, cfg.LogLevel)

	shellTimeout, err := cfg.shellTimeout()
	if err != nil {
		return nil, err
	}

	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.BuiltinConfig{
		Logger: logger,
		Shell:  actions.ShellConfig{DefaultTimeout: shellTimeout},
	}); err != nil {
		return nil, fmt.Errorf("register built-in actions: %w", err)
	}

	pv, err := validation.NewPlaybookValidator(reg)
	if err != nil {
		return nil, fmt.Errorf("build playbook validator: %w", err)
	}

	hub := streaming.NewMemoryHub()
	exec := engine.NewExecutor(reg,
		engine.WithLogger(logger),
		engine.WithPublisher(hub),
		engine.WithInputValidator(pv),
	)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		validator: pv,
		hub:       hub,
		executor:  exec,
	}

	if opts.openStore {
		s, err := openStore(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.recorder = store.NewEventRecorder(s, logger)
	}

	a.runner = runner.New(runner.Deps{
		Executor:  exec,
		Validator: pv,
		Store:     historyStore(a),
		Logger:    logger,
	})
	return a, nil
}

// openStore creates the database directory, opens libSQL and migrates.
func openStore(ctx context.Context, dbPath string) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s, err := store.NewLibSQLStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return s, nil
}

// record persists hub events matching filter until the returned stop is
// called. A no-op when history is off.
func (a *app) record(ctx context.Context, filter streaming.EventFilter) func() {
	if a.recorder == nil {
		return func() {}
	}
	stop, err := a.recorder.Record(context.WithoutCancel(ctx), a.hub, filter)
	if err != nil {
		a.logger.Warn("event recording disabled", slog.String("error", err.Error()))
		return func() {}
	}
	return stop
}

// historyStore returns the run store, or a nil interface when history is off.
func historyStore(a *app) store.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// errHistoryDisabled is returned by commands that need the run store.
var errHistoryDisabled = errors.New("run history is disabled (set history: true or MAESTRO_HISTORY=1)")
