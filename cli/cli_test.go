package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

const validSpecYAML = `
name: build-watcher
integrations:
  - id: github
    capabilities: [github.list_commits]
actions:
  - id: fetch_commits
    integration: github
    capability: github.list_commits
    reducer: store_commits
workflows:
  - id: sync
    nodes:
      - id: a
        kind: action
        action: fetch_commits
state:
  initial:
    commits: []
  reducers:
    - id: store_commits
      kind: set
      field: commits
`

const brokenSpecYAML = `
name: build-watcher
integrations:
  - id: github
    capabilities: [github.list_commits]
actions:
  - id: fetch_commits
    integration: github
    capability: github.list_commits
workflows:
  - id: sync
    nodes:
      - id: a
        kind: action
        action: no_such_action
`

func writeSpec(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCleanSpec(t *testing.T) {
	path := writeSpec(t, validSpecYAML)

	out, err := execute(t, NewValidateCmd(), path)
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Valid") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateBrokenSpecExitsWithValidationCode(t *testing.T) {
	path := writeSpec(t, brokenSpecYAML)

	out, err := execute(t, NewValidateCmd(), path)
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != exitValidation {
		t.Fatalf("error = %v, want exit code %d", err, exitValidation)
	}
	if !strings.Contains(out, "TS-004") {
		t.Errorf("output %q does not name the diagnostic", out)
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, NewValidateCmd(), filepath.Join(t.TempDir(), "ghost.yaml"))
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != exitFileNotFound {
		t.Fatalf("error = %v, want exit code %d", err, exitFileNotFound)
	}
}

func TestValidateJSONFormat(t *testing.T) {
	path := writeSpec(t, brokenSpecYAML)

	out, _ := execute(t, NewValidateCmd(), path, "--format", "json")
	var diags []map[string]any
	if err := json.Unmarshal([]byte(out), &diags); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(diags) == 0 {
		t.Error("no diagnostics in JSON output")
	}
}

func TestCompileWritesArtifact(t *testing.T) {
	path := writeSpec(t, validSpecYAML)
	outPath := filepath.Join(t.TempDir(), "artifact.json")

	out, err := execute(t, NewCompileCmd(), path, "-o", outPath)
	if err != nil {
		t.Fatalf("compile error = %v\n%s", err, out)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var artifact map[string]any
	if err := json.Unmarshal(raw, &artifact); err != nil {
		t.Fatalf("artifact is not JSON: %v", err)
	}
	if artifact["name"] != "build-watcher" || artifact["spec_hash"] == "" {
		t.Errorf("artifact = %v", artifact)
	}
}

func TestCompileBrokenSpecFailsWithoutArtifact(t *testing.T) {
	path := writeSpec(t, brokenSpecYAML)
	outPath := filepath.Join(t.TempDir(), "artifact.json")

	_, err := execute(t, NewCompileCmd(), path, "-o", outPath)
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != exitValidation {
		t.Fatalf("error = %v, want exit code %d", err, exitValidation)
	}
	if _, statErr := os.Stat(outPath); statErr == nil {
		t.Error("failed compile produced an artifact file")
	}
}

func TestRunWorkflowLocally(t *testing.T) {
	path := writeSpec(t, validSpecYAML)

	out, err := execute(t, NewRunCmd(), path, "--workflow", "sync")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result["status"] != "completed" {
		t.Errorf("status = %v, want completed", result["status"])
	}
	if result["run_id"] == "" {
		t.Error("no run id in output")
	}
}

func TestRunRequiresExactlyOneTarget(t *testing.T) {
	path := writeSpec(t, validSpecYAML)

	if _, err := execute(t, NewRunCmd(), path); err == nil {
		t.Error("run with no target accepted")
	}
	if _, err := execute(t, NewRunCmd(), path, "--workflow", "sync", "--action", "fetch_commits"); err == nil {
		t.Error("run with two targets accepted")
	}
}
