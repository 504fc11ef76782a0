package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/maestro/internal/playbook"
	"github.com/rendis/maestro/pkg/schema"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate [playbook.yaml...]",
	Short: "Check playbooks against the schema and the action registry",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print results as JSON")
}

type validateReport struct {
	File     string                   `json:"file"`
	Playbook string                   `json:"playbook,omitempty"`
	Valid    bool                     `json:"valid"`
	Errors   []schema.ValidationIssue `json:"errors,omitempty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	reports := make([]validateReport, 0, len(args))
	failed := 0
	for _, path := range args {
		rep := validateReport{File: path}
		pb, err := playbook.LoadFile(path)
		if err != nil {
			rep.Errors = []schema.ValidationIssue{{
				Code:     schema.ErrCodeLoad,
				Message:  err.Error(),
				Severity: schema.SeverityError,
			}}
		} else {
			vr := a.validator.Validate(pb)
			rep.Playbook = pb.Name
			rep.Errors = vr.Errors
			rep.Warnings = vr.Warnings
		}
		rep.Valid = len(rep.Errors) == 0
		if !rep.Valid {
			failed++
		}
		reports = append(reports, rep)
	}

	out := cmd.OutOrStdout()
	if validateJSON {
		if err := writeJSON(out, reports); err != nil {
			return err
		}
	} else {
		for _, rep := range reports {
			if rep.Valid {
				fmt.Fprintf(out, "✓ %s", rep.File)
				if len(rep.Warnings) > 0 {
					fmt.Fprintf(out, " (%d warning(s))", len(rep.Warnings))
				}
				fmt.Fprintln(out)
			} else {
				fmt.Fprintf(out, "✗ %s: %d error(s)\n", rep.File, len(rep.Errors))
			}
			for _, issue := range rep.Errors {
				fmt.Fprintf(out, "    %s\n", issue)
			}
			for _, issue := range rep.Warnings {
				fmt.Fprintf(out, "    %s\n", issue)
			}
		}
	}

	if failed > 0 {
		return exitCodeError{code: 1, msg: fmt.Sprintf("%d of %d playbook(s) invalid", failed, len(reports))}
	}
	return nil
}
