// Package toolforge is the orchestration engine of the tool execution
// substrate. It runs compiled workflows (strict typed DAGs) and action
// graphs (general conditional graphs) over the action runtime, persisting
// one ExecutionRun with append-only step records per invocation.
package toolforge

import (
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks-ai/toolforge/runtime"
)

// RunStatus is the lifecycle of one execution run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"

	// RunBlocked marks a run halted by a falsy condition or the
	// automation-pause kill switch. Blocking is an expected branch, not
	// an error.
	RunBlocked RunStatus = "blocked"
)

// StepStatus is the lifecycle of one node execution within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepBlocked   StepStatus = "blocked"
)

// RunLogEntry is one ordered, append-only log line on a run.
type RunLogEntry struct {
	Time    time.Time `json:"time"`
	NodeID  string    `json:"node_id,omitempty"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ExecutionRun records one workflow or action-graph invocation. It is
// append-only until it reaches a terminal status.
type ExecutionRun struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	ToolID    string    `json:"tool_id"`
	TargetID  string    `json:"target_id"` // workflow or graph id
	TriggerID string    `json:"trigger_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Status    RunStatus `json:"status"`

	Input       map[string]any `json:"input,omitempty"`
	StateBefore map[string]any `json:"state_before,omitempty"`
	StateAfter  map[string]any `json:"state_after,omitempty"`

	// ReducerIDs pins the reducer set at run creation so a stale run
	// cannot silently replay against a changed spec.
	ReducerIDs []string `json:"reducer_ids,omitempty"`

	CurrentStep string        `json:"current_step,omitempty"`
	Log         []RunLogEntry `json:"log,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunStep records one node execution within a run.
type RunStep struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	NodeID     string     `json:"node_id"`
	Kind       string     `json:"kind"`
	Status     StepStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewStepID returns a fresh step identifier.
func NewStepID() string {
	return uuid.NewString()
}

// appendLog adds one ordered entry to the run log.
func (r *ExecutionRun) appendLog(now time.Time, nodeID, level, message string) {
	r.Log = append(r.Log, RunLogEntry{
		Time:    now,
		NodeID:  nodeID,
		Level:   level,
		Message: message,
	})
}

// terminal reports whether the run has reached a terminal status.
func (r *ExecutionRun) terminal() bool {
	switch r.Status {
	case RunCompleted, RunFailed, RunBlocked:
		return true
	}
	return false
}

// RunResult bundles a finished run with the final action outputs keyed by
// node id, for callers that feed goal validation.
type RunResult struct {
	Run     *ExecutionRun
	Outputs map[string]any
	Events  []runtime.EmittedEvent
}
