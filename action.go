package toolforge

import (
	"context"
	"fmt"

	"github.com/forgeworks-ai/toolforge/spec"
)

// RunAction executes one bound action as its own tracked run: a trigger
// fired directly at an action gets the same run record, pause check, and
// events as a workflow invocation.
func (e *Engine) RunAction(ctx context.Context, req RunRequest) (*RunResult, error) {
	action, ok := req.Tool.ActionByID(req.TargetID)
	if !ok {
		return nil, fmt.Errorf("action %s not declared", req.TargetID)
	}

	rc, err := e.newRun(ctx, req.OrgID, req.ToolID, req.TargetID, req.TriggerID, req.UserID, req.Tool, req.Input)
	if err != nil {
		return nil, err
	}
	e.emit(NewEvent(EventRunStarted, rc.run.ID, rc.run.ToolID).
		WithPayload("target_id", req.TargetID))

	if e.automationPaused(ctx, req.ToolID) {
		rc.run.appendLog(e.now(), "", "warn", "automation paused, run blocked")
		e.finishRun(ctx, rc, RunBlocked)
		return e.result(rc), nil
	}

	rc.run.Status = RunRunning
	if err := e.runs.UpdateRun(ctx, rc.run); err != nil {
		e.logger.Error("run update failed", "run_id", rc.run.ID, "error", err)
	}

	step := e.beginStep(ctx, rc, action.ID, string(spec.NodeKindAction))
	_, actErr := e.executeActionStep(ctx, rc, step, action.ID, spec.RetryPolicy{MaxAttempts: 1})
	if actErr != nil {
		e.endStep(ctx, rc, step, StepFailed, actErr)
		e.finishRun(ctx, rc, RunFailed)
		return e.result(rc), actErr
	}
	e.endStep(ctx, rc, step, StepCompleted, nil)

	e.finishRun(ctx, rc, RunCompleted)
	return e.result(rc), nil
}
