package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/maestro/internal/scheduler"
	"github.com/rendis/maestro/internal/streaming"
	maestromcp "github.com/rendis/maestro/pkg/mcp"
)

var serveNoScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over stdio and run scheduled playbooks",
	Long: "serve exposes maestro.run, maestro.validate, maestro.actions and maestro.history " +
		"over the MCP stdio transport, and runs the schedules from settings.json until interrupted.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Do not run configured schedules")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	// stdout carries the MCP protocol; logs go to stderr.
	a, err := newApp(ctx, cfg, appOptions{logOutput: cmd.ErrOrStderr(), openStore: cfg.History})
	if err != nil {
		return err
	}
	defer a.Close()

	stopRecording := a.record(ctx, streaming.EventFilter{})
	defer stopRecording()

	var sched *scheduler.Scheduler
	if !serveNoScheduler && len(cfg.Schedules) > 0 {
		interval, err := cfg.scheduleInterval()
		if err != nil {
			return err
		}
		sched, err = scheduler.New(cfg.Schedules, a.runner, scheduler.Config{
			Interval:      interval,
			MaxConcurrent: cfg.MaxConcurrentRuns,
			Logger:        a.logger,
		})
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	maestromcp.Version = version
	srv := maestromcp.NewMaestroServer(maestromcp.MaestroServerDeps{
		Runner:    a.runner,
		Registry:  a.registry,
		Validator: a.validator,
		Store:     historyStore(a),
		Hub:       a.hub,
		Logger:    a.logger,
	})

	a.logger.Info("maestro serving",
		slog.String("transport", "stdio"),
		slog.Bool("history", a.store != nil),
		slog.Int("schedules", len(cfg.Schedules)))

	serveErr := srv.Serve(ctx)

	if sched != nil {
		_ = sched.Stop()
	}
	if serveErr != nil && !errors.Is(serveErr, ctx.Err()) {
		return serveErr
	}
	a.logger.Info("maestro stopped")
	return nil
}
