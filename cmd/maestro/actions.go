package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/maestro/internal/actions"
)

var actionsJSON bool

var actionsCmd = &cobra.Command{
	Use:   "actions [name]",
	Short: "List registered actions, or describe one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runActions,
}

func init() {
	actionsCmd.Flags().BoolVar(&actionsJSON, "json", false, "Print as JSON")
}

func runActions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	infos := a.registry.List()
	if len(args) == 1 {
		def, ok := a.registry.Get(args[0])
		if !ok {
			return fmt.Errorf("action %q is not registered", args[0])
		}
		infos = []actions.ActionInfo{def.Info()}
	}

	out := cmd.OutOrStdout()
	if actionsJSON {
		return writeJSON(out, infos)
	}

	if len(args) == 1 {
		describeAction(cmd, infos[0])
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINPUTS\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, inputSummary(info), info.Description)
	}
	return tw.Flush()
}

func describeAction(cmd *cobra.Command, info actions.ActionInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", info.Name)
	if info.Description != "" {
		fmt.Fprintf(out, "  %s\n", info.Description)
	}
	if len(info.Inputs) > 0 {
		fmt.Fprintln(out, "\nInputs:")
		for _, name := range sortedKeys(info.Inputs) {
			spec := info.Inputs[name]
			line := fmt.Sprintf("  %s (%s)", name, orAny(spec.Type))
			if spec.Required {
				line += " required"
			}
			if spec.Default != nil {
				line += fmt.Sprintf(" default=%v", spec.Default)
			}
			if spec.Description != "" {
				line += ": " + spec.Description
			}
			fmt.Fprintln(out, line)
		}
	}
	if len(info.Outputs) > 0 {
		fmt.Fprintln(out, "\nOutputs:")
		for _, name := range sortedKeys(info.Outputs) {
			spec := info.Outputs[name]
			fmt.Fprintf(out, "  %s (%s) %s\n", name, orAny(spec.Type), spec.Description)
		}
	}
}

// inputSummary renders "a*, b" where * marks required inputs.
func inputSummary(info actions.ActionInfo) string {
	names := sortedKeys(info.Inputs)
	for i, name := range names {
		if info.Inputs[name].Required {
			names[i] = name + "*"
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orAny(t string) string {
	if t == "" {
		return "any"
	}
	return t
}
