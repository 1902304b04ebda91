package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/forgeworks-ai/toolforge/spec"
)

// NewValidateCmd creates the "validate" subcommand. Validation is
// advisory: it accumulates diagnostics and clarification prompts instead
// of stopping at the first defect.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a tool spec without compiling",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,

		// The root command silences usage on runtime errors; mirror that
		// here so the command behaves the same when executed standalone.
		SilenceUsage: true,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	s, err := loadSpec(args[0])
	if err != nil {
		return err
	}

	diags := spec.Validate(s, devRegistry(s))
	printDiagnostics(out, diags, format)

	if spec.HasErrors(diags) {
		return exitError(exitValidation, "validation failed")
	}
	if strict {
		for _, d := range diags {
			if d.Severity == spec.SeverityWarning {
				return exitError(exitValidation, "validation failed (strict)")
			}
		}
	}
	return nil
}

func printDiagnostics(out io.Writer, diags []spec.Diagnostic, format string) {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(diags)
		return
	}

	if len(diags) == 0 {
		fmt.Fprintln(out, "Valid: no diagnostics")
		return
	}
	for _, d := range diags {
		if d.Path != "" {
			fmt.Fprintf(out, "%s %s at %s: %s\n", d.Severity, d.Code, d.Path, d.Message)
		} else {
			fmt.Fprintf(out, "%s %s: %s\n", d.Severity, d.Code, d.Message)
		}
		if d.Prompt != "" {
			fmt.Fprintf(out, "  ? %s\n", d.Prompt)
		}
	}
}
