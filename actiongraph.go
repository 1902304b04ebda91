package toolforge

import (
	"context"
	"fmt"

	"github.com/forgeworks-ai/toolforge/spec"
)

// RunActionGraph executes a general action graph: breadth-first from the
// root nodes, following typed edges chosen by the outcome of each node.
// Unlike workflows the graph engine never retries; recovery is expressed
// as failure edges. A node visits at most once per run, so converging
// branches cannot re-execute an action.
func (e *Engine) RunActionGraph(ctx context.Context, req RunRequest) (*RunResult, error) {
	graph, ok := req.Tool.Graphs[req.TargetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGraph, req.TargetID)
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

	byID := make(map[string]spec.GraphNode, len(graph.Nodes))
	hasIncoming := make(map[string]bool)
	for _, n := range graph.Nodes {
		byID[n.ID] = n
	}
	for _, edge := range graph.Edges {
		hasIncoming[edge.To] = true
	}

	var queue []string
	for _, n := range graph.Nodes {
		if !hasIncoming[n.ID] {
			queue = append(queue, n.ID)
		}
	}

	visited := make(map[string]bool, len(graph.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		node := byID[id]
		step := e.beginStep(ctx, rc, node.ID, string(spec.NodeKindAction))

		// Graph nodes execute exactly once; failure handling lives in the
		// edges, not in a retry loop.
		output, nodeErr := e.executeActionStep(ctx, rc, step, node.ActionID, spec.RetryPolicy{MaxAttempts: 1})
		rc.lastOutput = output
		rc.lastErr = nodeErr

		if nodeErr != nil {
			e.endStep(ctx, rc, step, StepFailed, nodeErr)
		} else {
			e.endStep(ctx, rc, step, StepCompleted, nil)
		}

		followed, edgeErr := e.followEdges(ctx, rc, graph, node.ID, output, nodeErr, &queue, visited)
		if edgeErr != nil {
			rc.run.appendLog(e.now(), node.ID, "error", edgeErr.Error())
			e.finishRun(ctx, rc, RunFailed)
			return e.result(rc), edgeErr
		}

		if nodeErr != nil && !followed {
			rc.run.appendLog(e.now(), node.ID, "error",
				"node failed with no matching failure edge, run failed")
			e.finishRun(ctx, rc, RunFailed)
			return e.result(rc), nodeErr
		}
	}

	e.finishRun(ctx, rc, RunCompleted)
	return e.result(rc), nil
}

// followEdges enqueues the targets of every edge whose kind and condition
// match the node's outcome, reporting whether any edge matched. An
// unreadable state store fails the traversal rather than silently
// dropping conditional edges.
func (e *Engine) followEdges(ctx context.Context, rc *runContext, graph spec.ActionGraph, nodeID string, output any, nodeErr error, queue *[]string, visited map[string]bool) (bool, error) {
	followed := false
	for _, edge := range graph.Edges {
		if edge.From != nodeID {
			continue
		}
		if !edgeKindMatches(edge.Kind, nodeErr) {
			continue
		}
		if edge.Condition != "" {
			matched, err := e.evaluateEdgeCondition(ctx, rc, edge.Condition, output, nodeErr)
			if err != nil {
				return false, err
			}
			if !matched {
				continue
			}
		}
		followed = true
		if !visited[edge.To] {
			*queue = append(*queue, edge.To)
		}
	}
	return followed, nil
}

// edgeKindMatches reports whether an edge kind applies to the node outcome.
// An untyped edge behaves as a success edge.
func edgeKindMatches(kind spec.EdgeKind, nodeErr error) bool {
	switch kind {
	case spec.EdgeSuccess, "":
		return nodeErr == nil
	case spec.EdgeFailure:
		return nodeErr != nil
	case spec.EdgeDefault:
		return true
	}
	return false
}

// evaluateEdgeCondition resolves a dotted path against the node outcome
// environment: output, error, and the current tool state.
func (e *Engine) evaluateEdgeCondition(ctx context.Context, rc *runContext, condition string, output any, nodeErr error) (bool, error) {
	state, err := e.readState(ctx, rc.run.ToolID, rc.tool)
	if err != nil {
		return false, fmt.Errorf("edge condition %q: state unavailable: %w", condition, err)
	}
	env := map[string]any{
		"output": output,
		"state":  state,
	}
	if nodeErr != nil {
		env["error"] = nodeErr.Error()
	}
	value, ok := lookupPath(env, condition)
	return ok && truthy(value), nil
}
