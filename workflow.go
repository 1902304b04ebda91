package toolforge

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeworks-ai/toolforge/spec"
)

// RunRequest identifies one workflow or action-graph invocation.
type RunRequest struct {
	OrgID     string
	ToolID    string
	Tool      *spec.ExecutableTool
	TargetID  string
	TriggerID string
	UserID    string
	Input     map[string]any
}

// RunWorkflow executes a workflow as a strict DAG: nodes run sequentially
// in topological order, action nodes retry per the workflow retry policy,
// and a falsy condition blocks the run rather than failing it. A cycle is
// rejected before any node runs, and the automation kill switch blocks the
// run before any side effect.
func (e *Engine) RunWorkflow(ctx context.Context, req RunRequest) (*RunResult, error) {
	wf, ok := req.Tool.WorkflowByID(req.TargetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, req.TargetID)
	}

	order, err := topoSortWorkflow(wf)
	if err != nil {
		return nil, err
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

	for i, node := range order {
		status, stepErr := e.runWorkflowNode(ctx, rc, node, wf.Retry)
		if stepErr != nil && status == StepFailed {
			e.skipRemaining(ctx, rc, order[i+1:])
			e.finishRun(ctx, rc, RunFailed)
			return e.result(rc), stepErr
		}
		if status == StepBlocked {
			e.skipRemaining(ctx, rc, order[i+1:])
			e.finishRun(ctx, rc, RunBlocked)
			return e.result(rc), nil
		}
	}

	e.finishRun(ctx, rc, RunCompleted)
	return e.result(rc), nil
}

// runWorkflowNode dispatches one node through the shared pipeline.
func (e *Engine) runWorkflowNode(ctx context.Context, rc *runContext, node spec.WorkflowNode, retry spec.RetryPolicy) (StepStatus, error) {
	step := e.beginStep(ctx, rc, node.ID, string(node.Kind))

	switch node.Kind {
	case spec.NodeKindAction:
		output, err := e.executeActionStep(ctx, rc, step, node.ActionID, retry)
		if err != nil {
			e.endStep(ctx, rc, step, StepFailed, err)
			return StepFailed, err
		}
		rc.lastOutput = output
		e.endStep(ctx, rc, step, StepCompleted, nil)
		return StepCompleted, nil

	case spec.NodeKindCondition:
		met, err := e.evaluateCondition(ctx, rc, node.ConditionPath)
		if err != nil {
			rc.run.appendLog(e.now(), node.ID, "error", err.Error())
			e.endStep(ctx, rc, step, StepFailed, err)
			return StepFailed, err
		}
		if !met {
			rc.run.appendLog(e.now(), node.ID, "info",
				fmt.Sprintf("condition %q not met, run blocked", node.ConditionPath))
			e.endStep(ctx, rc, step, StepBlocked, nil)
			return StepBlocked, nil
		}
		e.endStep(ctx, rc, step, StepCompleted, nil)
		return StepCompleted, nil

	case spec.NodeKindWait:
		if err := e.sleep(ctx, time.Duration(node.WaitMS)*time.Millisecond); err != nil {
			e.endStep(ctx, rc, step, StepFailed, err)
			return StepFailed, err
		}
		e.endStep(ctx, rc, step, StepCompleted, nil)
		return StepCompleted, nil

	case spec.NodeKindTransform:
		// Transforms reshape data between nodes. Reshaping is declared in
		// the spec's reducers, so at the engine level the node is a marker.
		e.endStep(ctx, rc, step, StepCompleted, nil)
		return StepCompleted, nil

	default:
		err := fmt.Errorf("unknown node kind %q", node.Kind)
		e.endStep(ctx, rc, step, StepFailed, err)
		return StepFailed, err
	}
}

// skipRemaining records skipped steps for nodes that will not run.
func (e *Engine) skipRemaining(ctx context.Context, rc *runContext, nodes []spec.WorkflowNode) {
	for _, node := range nodes {
		step := &RunStep{
			ID:        NewStepID(),
			RunID:     rc.run.ID,
			NodeID:    node.ID,
			Kind:      string(node.Kind),
			Status:    StepSkipped,
			StartedAt: e.now(),
		}
		now := e.now()
		step.FinishedAt = &now
		if err := e.runs.AppendStep(ctx, step); err != nil {
			e.logger.Error("step append failed", "run_id", rc.run.ID, "node_id", node.ID, "error", err)
		}
		e.emit(NewEvent(EventNodeSkipped, rc.run.ID, rc.run.ToolID).
			WithNode(node.ID, string(node.Kind)))
	}
}

func (e *Engine) result(rc *runContext) *RunResult {
	return &RunResult{
		Run:     rc.run,
		Outputs: rc.outputs,
		Events:  rc.events,
	}
}

// topoSortWorkflow orders workflow nodes with Kahn's algorithm, keeping
// declaration order among nodes that become ready together. A cycle
// returns ErrWorkflowHasCycles.
func topoSortWorkflow(wf spec.Workflow) ([]spec.WorkflowNode, error) {
	byID := make(map[string]spec.WorkflowNode, len(wf.Nodes))
	inDegree := make(map[string]int, len(wf.Nodes))
	for _, n := range wf.Nodes {
		byID[n.ID] = n
		inDegree[n.ID] = 0
	}

	adjacency := make(map[string][]string)
	for _, edge := range wf.Edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		inDegree[edge.To]++
	}

	var queue []string
	for _, n := range wf.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]spec.WorkflowNode, 0, len(wf.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])

		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(wf.Nodes) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowHasCycles, wf.ID)
	}
	return order, nil
}
