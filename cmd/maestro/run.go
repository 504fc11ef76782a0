package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/maestro/internal/playbook"
	"github.com/rendis/maestro/internal/runner"
	"github.com/rendis/maestro/internal/streaming"
	"github.com/rendis/maestro/pkg/schema"
)

var (
	runInputs  []string
	runVars    []string
	runCwd     string
	runSession string
	runJSON    bool
	runQuiet   bool
)

var runCmd = &cobra.Command{
	Use:   "run [playbook.yaml]",
	Short: "Execute a playbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Set a playbook input (key=value), repeatable")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set an initial variable (key=value), repeatable")
	runCmd.Flags().StringVar(&runCwd, "cwd", "", "Working directory for shell and file actions (default: current directory)")
	runCmd.Flags().StringVar(&runSession, "session", "", "Session ID recorded with the run")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the execution result as JSON")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print per-step progress")
}

func runRun(cmd *cobra.Command, args []string) error {
	inputs, err := playbook.ParseInputArgs(runInputs)
	if err != nil {
		return err
	}
	vars, err := playbook.ParseInputArgs(runVars)
	if err != nil {
		return err
	}

	cwd := runCwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{openStore: cfg.History})
	if err != nil {
		return err
	}
	defer a.Close()

	runID := uuid.NewString()
	stopRecording := a.record(ctx, streaming.EventFilter{RunID: runID})

	out := cmd.OutOrStdout()
	progress := out
	if runJSON {
		progress = cmd.ErrOrStderr()
	}
	if runQuiet {
		progress = io.Discard
	}

	res, err := a.runner.RunFile(ctx, args[0], runner.Request{
		RunID:          runID,
		Inputs:         inputs,
		Variables:      vars,
		Cwd:            cwd,
		SessionID:      runSession,
		OnStepStart:    func(step schema.PlaybookStep, index int) { printStepStart(progress, step, index) },
		OnStepComplete: func(r schema.StepExecutionResult, index int) { printStepResult(progress, r, index) },
	})
	stopRecording()
	if err != nil {
		return err
	}

	if runJSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		printSummary(out, res)
	}

	switch {
	case res.Aborted():
		return exitCodeError{code: 130, msg: "run aborted"}
	case !res.Success:
		return exitCodeError{code: 1}
	}
	return nil
}

func printStepStart(w io.Writer, step schema.PlaybookStep, index int) {
	fmt.Fprintf(w, "▶ [%d] %s (%s)\n", index+1, step.Label(), step.Action)
}

func printStepResult(w io.Writer, r schema.StepExecutionResult, index int) {
	switch {
	case r.Skipped:
		fmt.Fprintf(w, "  - [%d] %s skipped\n", index+1, r.Step)
	case r.Success:
		fmt.Fprintf(w, "  ✓ [%d] %s (%dms)\n", index+1, r.Step, r.ElapsedMs)
	default:
		fmt.Fprintf(w, "  ✗ [%d] %s: %s\n", index+1, r.Step, r.Error)
	}
}

func printSummary(w io.Writer, res *schema.PlaybookExecutionResult) {
	state := "succeeded"
	switch {
	case res.Aborted():
		state = "aborted"
	case !res.Success:
		state = "failed"
	}
	fmt.Fprintf(w, "\nPlaybook %q %s: %d steps, %d ok, %d failed, %d skipped in %dms\n",
		res.Playbook, state, res.TotalSteps, res.SuccessfulSteps, res.FailedSteps, res.SkippedSteps, res.ElapsedMs)
	fmt.Fprintf(w, "Run ID: %s\n", res.RunID)
}
