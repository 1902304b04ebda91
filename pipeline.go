package toolforge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgeworks-ai/toolforge/memory"
	"github.com/forgeworks-ai/toolforge/runtime"
	"github.com/forgeworks-ai/toolforge/spec"
)

// runContext carries one invocation's state through the shared step
// pipeline. Both traversal strategies (strict DAG, conditional graph)
// execute nodes through this single pipeline so reduction, logging, and
// retries behave identically.
type runContext struct {
	run     *ExecutionRun
	tool    *spec.ExecutableTool
	input   map[string]any
	outputs map[string]any
	events  []runtime.EmittedEvent

	// lastOutput and lastErr feed action-graph edge conditions.
	lastOutput any
	lastErr    error

	runStart time.Time
}

// newRun builds and persists the initial run record.
func (e *Engine) newRun(ctx context.Context, orgID, toolID, targetID, triggerID, userID string, tool *spec.ExecutableTool, input map[string]any) (*runContext, error) {
	now := e.now()

	reducerIDs := make([]string, 0, len(tool.Reducers))
	for id := range tool.Reducers {
		reducerIDs = append(reducerIDs, id)
	}

	run := &ExecutionRun{
		ID:          NewRunID(),
		OrgID:       orgID,
		ToolID:      toolID,
		TargetID:    targetID,
		TriggerID:   triggerID,
		UserID:      userID,
		Status:      RunPending,
		Input:       input,
		StateBefore: e.currentState(ctx, toolID, tool),
		ReducerIDs:  reducerIDs,
		StartedAt:   now,
	}

	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("engine: create run: %w", err)
	}

	return &runContext{
		run:      run,
		tool:     tool,
		input:    input,
		outputs:  make(map[string]any),
		runStart: now,
	}, nil
}

// currentState reads the tool's live state snapshot for the run record.
// Snapshot bookkeeping is best effort: a failed read falls back to the
// declared initial state so record-keeping never blocks a run. Decisions
// must use readState instead.
func (e *Engine) currentState(ctx context.Context, toolID string, tool *spec.ExecutableTool) map[string]any {
	state, err := e.readState(ctx, toolID, tool)
	if err != nil {
		e.logger.Warn("state snapshot read failed", "tool_id", toolID, "error", err)
		state = make(map[string]any)
		for k, v := range tool.InitialState {
			state[k] = v
		}
	}
	return state
}

// readState reads the tool's live state, falling back to the declared
// initial state only when the store answered and the state is absent. An
// unavailable store is an error so callers never decide against defaults.
func (e *Engine) readState(ctx context.Context, toolID string, tool *spec.ExecutableTool) (map[string]any, error) {
	state := make(map[string]any)
	if _, err := e.rt.Memory().Get(ctx, memory.ToolScope(toolID), "state", "current", &state); err != nil {
		return nil, err
	}
	if len(state) == 0 && tool.InitialState != nil {
		for k, v := range tool.InitialState {
			state[k] = v
		}
	}
	return state, nil
}

// finishRun stamps the terminal status and persists the final record.
func (e *Engine) finishRun(ctx context.Context, rc *runContext, status RunStatus) {
	now := e.now()
	rc.run.Status = status
	rc.run.FinishedAt = &now
	rc.run.StateAfter = e.currentState(ctx, rc.run.ToolID, rc.tool)

	if err := e.runs.UpdateRun(ctx, rc.run); err != nil {
		e.logger.Error("run update failed", "run_id", rc.run.ID, "error", err)
	}

	e.emit(NewEvent(EventRunFinished, rc.run.ID, rc.run.ToolID).
		WithElapsed(now.Sub(rc.runStart)).
		WithPayload("status", string(status)))
}

// beginStep persists a running step record and emits the started event.
func (e *Engine) beginStep(ctx context.Context, rc *runContext, nodeID, kind string) *RunStep {
	step := &RunStep{
		ID:        NewStepID(),
		RunID:     rc.run.ID,
		NodeID:    nodeID,
		Kind:      kind,
		Status:    StepRunning,
		StartedAt: e.now(),
	}
	if err := e.runs.AppendStep(ctx, step); err != nil {
		e.logger.Error("step append failed", "run_id", rc.run.ID, "node_id", nodeID, "error", err)
	}

	rc.run.CurrentStep = nodeID
	e.emit(NewEvent(EventNodeStarted, rc.run.ID, rc.run.ToolID).
		WithNode(nodeID, kind).
		WithElapsed(e.now().Sub(rc.runStart)))
	return step
}

// endStep stamps the step outcome and persists it.
func (e *Engine) endStep(ctx context.Context, rc *runContext, step *RunStep, status StepStatus, stepErr error) {
	now := e.now()
	step.Status = status
	step.FinishedAt = &now
	if stepErr != nil {
		step.Error = stepErr.Error()
	}
	if err := e.runs.UpdateStep(ctx, step); err != nil {
		e.logger.Error("step update failed", "run_id", rc.run.ID, "node_id", step.NodeID, "error", err)
	}

	kind := EventNodeFinished
	switch status {
	case StepFailed:
		kind = EventNodeFailed
	case StepBlocked:
		kind = EventNodeBlocked
	case StepSkipped:
		kind = EventNodeSkipped
	}
	ev := NewEvent(kind, rc.run.ID, rc.run.ToolID).
		WithNode(step.NodeID, step.Kind).
		WithAttempt(step.Attempts).
		WithElapsed(now.Sub(rc.runStart))
	if stepErr != nil {
		ev = ev.WithPayload("error", stepErr.Error())
	}
	e.emit(ev)
}

// executeActionStep runs one action node through the runtime with bounded
// retries and constant backoff. Only recoverable errors are retried.
// Exhausting retries returns the last error.
func (e *Engine) executeActionStep(ctx context.Context, rc *runContext, step *RunStep, actionID string, retry spec.RetryPolicy) (any, error) {
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := time.Duration(retry.BackoffMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		step.Attempts = attempt

		result, err := e.rt.ExecuteToolAction(ctx, runtime.ActionRequest{
			OrgID:     rc.run.OrgID,
			ToolID:    rc.run.ToolID,
			Tool:      rc.tool,
			ActionID:  actionID,
			Input:     rc.input,
			UserID:    rc.run.UserID,
			TriggerID: rc.run.TriggerID,
		})
		if err == nil {
			rc.outputs[step.NodeID] = result.Output
			rc.events = append(rc.events, result.Events...)
			rc.run.appendLog(e.now(), step.NodeID, "info",
				fmt.Sprintf("action %s completed (attempt %d)", actionID, attempt))
			return result.Output, nil
		}

		lastErr = err
		rc.run.appendLog(e.now(), step.NodeID, "error",
			fmt.Sprintf("action %s failed (attempt %d): %v", actionID, attempt, err))

		if attempt == maxAttempts || !runtime.IsRetryable(err) {
			break
		}

		e.emit(NewEvent(EventNodeRetried, rc.run.ID, rc.run.ToolID).
			WithNode(step.NodeID, string(spec.NodeKindAction)).
			WithAttempt(attempt).
			WithPayload("error", err.Error()))

		// Constant backoff, deliberately not exponential: upstream APIs
		// meter per-minute budgets, and a predictable cadence keeps the
		// rate limiter's window math meaningful.
		if err := e.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// evaluateCondition resolves a dotted path against the tool state and
// reports truthiness. A missing path is falsy; an unreadable state store
// is an error, distinct from a condition that is simply not met.
func (e *Engine) evaluateCondition(ctx context.Context, rc *runContext, path string) (bool, error) {
	state, err := e.readState(ctx, rc.run.ToolID, rc.tool)
	if err != nil {
		return false, fmt.Errorf("condition %q: state unavailable: %w", path, err)
	}
	value, ok := lookupPath(state, path)
	return ok && truthy(value), nil
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(root map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = root
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// truthy reports whether a value counts as true for condition nodes and
// edge conditions: false, nil, zero numbers, empty strings, and empty
// collections are falsy.
func truthy(v any) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != ""
	case int:
		return typed != 0
	case int64:
		return typed != 0
	case float64:
		return typed != 0
	case []any:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	default:
		return true
	}
}
