package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/forgeworks-ai/toolforge/spec"
)

// NewCompileCmd creates the "compile" subcommand: the hard gate. Any
// defect fails the whole compile; there is no partial artifact.
func NewCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a tool spec into an executable artifact",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile,
	}

	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().Bool("pretty", true, "Pretty-print JSON output")

	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	pretty, _ := cmd.Flags().GetBool("pretty")
	outputPath, _ := cmd.Flags().GetString("output")
	stdout := cmd.OutOrStdout()

	s, err := loadSpec(args[0])
	if err != nil {
		return err
	}

	tool, err := spec.Compile(s, devRegistry(s))
	if err != nil {
		return exitError(exitValidation, "compile failed: %v", err)
	}

	payload := compiledSummary(tool)
	var raw []byte
	if pretty {
		raw, err = json.MarshalIndent(payload, "", "  ")
	} else {
		raw, err = json.Marshal(payload)
	}
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, append(raw, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(stdout, "Compiled %s (hash %s) -> %s\n", tool.Name, tool.SpecHash[:12], outputPath)
		return nil
	}

	fmt.Fprintln(stdout, string(raw))
	return nil
}

// compiledSummary renders the artifact with stable ordering for diffable
// output.
func compiledSummary(tool *spec.ExecutableTool) map[string]any {
	return map[string]any{
		"name":      tool.Name,
		"spec_hash": tool.SpecHash,
		"actions":   sortedKeys(tool.Actions),
		"workflows": sortedKeys(tool.Workflows),
		"graphs":    sortedKeys(tool.Graphs),
		"triggers":  sortedKeys(tool.Triggers),
		"views":     sortedKeys(tool.Views),
		"reducers":  sortedKeys(tool.Reducers),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
