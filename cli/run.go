package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/forgeworks-ai/toolforge"
	"github.com/forgeworks-ai/toolforge/memory"
	"github.com/forgeworks-ai/toolforge/runtime"
	"github.com/forgeworks-ai/toolforge/spec"
	"github.com/forgeworks-ai/toolforge/store"
)

// NewRunCmd creates the "run" subcommand: compile a spec and execute one
// of its actions or workflows against an in-process development
// environment (echo capabilities, ephemeral memory, in-memory run store).
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Compile and execute an action or workflow locally",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("action", "", "Action id to execute")
	cmd.Flags().String("workflow", "", "Workflow id to execute")
	cmd.Flags().String("graph", "", "Action graph id to execute")
	cmd.Flags().String("input", "{}", "Input JSON object")
	cmd.Flags().String("org", "dev-org", "Org id")
	cmd.Flags().String("tool", "dev-tool", "Tool id")
	cmd.Flags().String("db", "", "SQLite DSN for durable memory (default: ephemeral)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	actionID, _ := cmd.Flags().GetString("action")
	workflowID, _ := cmd.Flags().GetString("workflow")
	graphID, _ := cmd.Flags().GetString("graph")
	inputJSON, _ := cmd.Flags().GetString("input")
	orgID, _ := cmd.Flags().GetString("org")
	toolID, _ := cmd.Flags().GetString("tool")
	dsn, _ := cmd.Flags().GetString("db")
	stdout := cmd.OutOrStdout()

	if countTargets(actionID, workflowID, graphID) != 1 {
		return fmt.Errorf("exactly one of --action, --workflow, --graph is required")
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		return fmt.Errorf("parsing --input: %w", err)
	}

	s, err := loadSpec(args[0])
	if err != nil {
		return err
	}

	tool, err := spec.Compile(s, devRegistry(s))
	if err != nil {
		return exitError(exitValidation, "compile failed: %v", err)
	}

	ctx := cmd.Context()

	var factory memory.Factory
	if dsn != "" {
		factory = memory.NewFactory(memory.Config{
			Driver: "sqlite",
			SQLite: memory.SQLiteAdapterConfig{DSN: dsn},
		})
	}
	mem := memory.NewStore(ctx, factory)
	defer mem.Close()

	runs := store.NewMemStore()
	rt, err := runtime.New(runtime.Config{
		Capabilities: devRegistry(s),
		Credentials:  devCredentials{},
		Memory:       mem,
		LogSink:      runs,
	})
	if err != nil {
		return err
	}

	engine, err := toolforge.NewEngine(toolforge.EngineConfig{
		Runtime: rt,
		Runs:    runs,
	})
	if err != nil {
		return err
	}

	req := toolforge.RunRequest{
		OrgID:  orgID,
		ToolID: toolID,
		Tool:   tool,
		Input:  input,
	}

	var result *toolforge.RunResult
	switch {
	case actionID != "":
		req.TargetID = actionID
		result, err = engine.RunAction(ctx, req)
	case workflowID != "":
		req.TargetID = workflowID
		result, err = engine.RunWorkflow(ctx, req)
	default:
		req.TargetID = graphID
		result, err = engine.RunActionGraph(ctx, req)
	}

	if result != nil {
		printRunResult(stdout, result)
	}
	if err != nil {
		return exitError(exitRunFailed, "run failed: %v", err)
	}
	return nil
}

func countTargets(ids ...string) int {
	n := 0
	for _, id := range ids {
		if id != "" {
			n++
		}
	}
	return n
}

func printRunResult(out io.Writer, result *toolforge.RunResult) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"run_id":  result.Run.ID,
		"status":  result.Run.Status,
		"outputs": result.Outputs,
		"log":     result.Run.Log,
	})
}
