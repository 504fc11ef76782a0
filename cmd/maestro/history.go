package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/maestro/internal/store"
	"github.com/rendis/maestro/pkg/schema"
)

var (
	historyPlaybook string
	historyStatus   string
	historySince    string
	historyLimit    int
	historyOffset   int
	historyJSON     bool
	historyEvents   bool
	historyOlder    time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one run with its step ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [run-id]",
	Short: "Delete a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than a duration and compact the database",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().StringVar(&historyPlaybook, "playbook", "", "Filter by playbook name")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status: completed, aborted")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only runs started after this RFC3339 time or duration ago (e.g. 24h)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Runs to skip")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Print as JSON")

	historyShowCmd.Flags().BoolVar(&historyEvents, "events", false, "Include the recorded event log")
	historyPruneCmd.Flags().DurationVar(&historyOlder, "older-than", 30*24*time.Hour, "Prune runs started before now minus this duration")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyPruneCmd)
}

// openHistory wires the app with its store, failing when history is off.
func openHistory(cmd *cobra.Command) (*app, error) {
	if !cfg.History {
		return nil, errHistoryDisabled
	}
	return newApp(cmd.Context(), cfg, appOptions{openStore: true})
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	filter := store.RunFilter{
		Playbook: historyPlaybook,
		Limit:    historyLimit,
		Offset:   historyOffset,
	}
	if historyStatus != "" {
		st := schema.RunStatus(historyStatus)
		filter.Status = &st
	}
	if historySince != "" {
		since, err := parseSince(historySince, time.Now())
		if err != nil {
			return err
		}
		filter.Since = &since
	}

	a, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.store.ListRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		return writeJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPLAYBOOK\tSTATUS\tRESULT\tSTEPS\tSTARTED\tELAPSED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%dms\n",
			r.ID, r.Playbook, r.Status, resultLabel(r.Success), r.SuccessfulSteps, r.TotalSteps,
			r.StartedAt.Local().Format(time.DateTime), r.ElapsedMs)
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	a, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	run, err := a.store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	var events []*store.Event
	if historyEvents {
		if events, err = a.store.GetEvents(ctx, run.ID, 0); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		if historyEvents {
			return writeJSON(out, map[string]any{"run": run, "events": events})
		}
		return writeJSON(out, run)
	}

	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintf(out, "  playbook:  %s\n", run.Playbook)
	if run.Source != "" {
		fmt.Fprintf(out, "  source:    %s\n", run.Source)
	}
	fmt.Fprintf(out, "  status:    %s (%s)\n", run.Status, resultLabel(run.Success))
	fmt.Fprintf(out, "  started:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "  elapsed:   %dms\n", run.ElapsedMs)
	fmt.Fprintln(out, "\nSteps:")
	for i, step := range run.Steps {
		printStepResult(out, step, i)
	}
	if historyEvents {
		fmt.Fprintln(out, "\nEvents:")
		for _, e := range events {
			fmt.Fprintf(out, "  %3d %s %s %s\n", e.Sequence, e.Timestamp.Local().Format(time.TimeOnly), e.Type, e.Step)
		}
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	a, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteRun(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
	return nil
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	a, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	n, err := a.store.PruneRuns(ctx, time.Now().Add(-historyOlder))
	if err != nil {
		return err
	}
	if n > 0 {
		if err := a.store.Vacuum(ctx); err != nil {
			a.logger.Warn("vacuum after prune failed", "error", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
	return nil
}

// parseSince accepts an RFC3339 timestamp or a duration before now.
func parseSince(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 time or duration", v)
	}
	return now.Add(-d), nil
}

func resultLabel(success bool) string {
	if success {
		return "ok"
	}
	return "failed"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
