package spec

import (
	"fmt"

	"github.com/forgeworks-ai/toolforge/registry"
)

// Validate runs the same structural checks as Compile but accumulates
// diagnostics instead of failing on the first defect. Each error-severity
// diagnostic carries a clarification prompt so the surrounding layer can
// drive an interactive completion flow.
//
// Validate must never be substituted for Compile: execution always goes
// through the hard gate.
func Validate(s *ToolSystemSpec, caps registry.Provider) []Diagnostic {
	if s == nil {
		return []Diagnostic{{
			Code:     "TS-000",
			Severity: SeverityError,
			Message:  "spec is nil",
		}}
	}

	diags := make([]Diagnostic, 0)
	diags = append(diags, validateIntegrations(s)...)
	diags = append(diags, validateActions(s, caps)...)
	diags = append(diags, validateWorkflows(s)...)
	diags = append(diags, validateGraphs(s)...)
	diags = append(diags, validateTriggers(s)...)
	diags = append(diags, validateViews(s)...)
	return diags
}

func validateIntegrations(s *ToolSystemSpec) []Diagnostic {
	diags := make([]Diagnostic, 0)
	seen := make(map[string]bool)
	for i, in := range s.Integrations {
		path := fmt.Sprintf("integrations[%d]", i)
		if seen[in.ID] {
			diags = append(diags, errPrompt("TS-003", path,
				fmt.Sprintf("duplicate integration id %q", in.ID),
				fmt.Sprintf("Two integrations share the id %q. Which one should the tool keep?", in.ID)))
		}
		seen[in.ID] = true
		if len(in.Capabilities) == 0 {
			diags = append(diags, Diagnostic{
				Code:     "TS-011",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("integration %q declares no capabilities", in.ID),
				Path:     path,
			})
		}
	}
	return diags
}

func validateActions(s *ToolSystemSpec, caps registry.Provider) []Diagnostic {
	diags := make([]Diagnostic, 0)
	declared := make(map[string]bool, len(s.Integrations))
	for _, in := range s.Integrations {
		declared[in.ID] = true
	}
	reducers := make(map[string]bool, len(s.State.Reducers))
	for _, r := range s.State.Reducers {
		reducers[r.ID] = true
	}

	seen := make(map[string]bool)
	for i, a := range s.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if seen[a.ID] {
			diags = append(diags, errPrompt("TS-003", path,
				fmt.Sprintf("duplicate action id %q", a.ID),
				fmt.Sprintf("Two actions share the id %q. Should one be renamed?", a.ID)))
		}
		seen[a.ID] = true

		capability, ok := caps.GetCapability(a.CapabilityID)
		switch {
		case !ok:
			diags = append(diags, errPrompt("TS-001", path,
				fmt.Sprintf("action %q uses unregistered capability %q", a.ID, a.CapabilityID),
				fmt.Sprintf("The capability %q is not available. Which operation should %q perform instead?", a.CapabilityID, a.ID)))
		case capability.IntegrationID != a.IntegrationID:
			diags = append(diags, errPrompt("TS-001", path,
				fmt.Sprintf("action %q declares integration %q but capability %q belongs to %q",
					a.ID, a.IntegrationID, a.CapabilityID, capability.IntegrationID),
				fmt.Sprintf("Should action %q use the %q integration?", a.ID, capability.IntegrationID)))
		}

		if !declared[a.IntegrationID] {
			diags = append(diags, errPrompt("TS-002", path,
				fmt.Sprintf("action %q references undeclared integration %q", a.ID, a.IntegrationID),
				fmt.Sprintf("Do you want to connect %q to this tool?", a.IntegrationID)))
		}
		if a.ReducerID != "" && !reducers[a.ReducerID] {
			diags = append(diags, errPrompt("TS-004", path,
				fmt.Sprintf("action %q references unknown reducer %q", a.ID, a.ReducerID),
				fmt.Sprintf("How should the output of %q update the tool's data?", a.ID)))
		}
	}
	return diags
}

func validateWorkflows(s *ToolSystemSpec) []Diagnostic {
	diags := make([]Diagnostic, 0)
	actions := actionIDSet(s)

	for i, w := range s.Workflows {
		path := fmt.Sprintf("workflows[%d]", i)
		nodes := make(map[string]bool, len(w.Nodes))
		for j, n := range w.Nodes {
			npath := fmt.Sprintf("%s.nodes[%d]", path, j)
			if nodes[n.ID] {
				diags = append(diags, errPrompt("TS-003", npath,
					fmt.Sprintf("workflow %q has duplicate node id %q", w.ID, n.ID), ""))
			}
			nodes[n.ID] = true
			if n.Kind == NodeKindAction && !actions[n.ActionID] {
				diags = append(diags, errPrompt("TS-004", npath,
					fmt.Sprintf("workflow %q node %q references unknown action %q", w.ID, n.ID, n.ActionID),
					fmt.Sprintf("Which step should run at %q in the %q workflow?", n.ID, w.ID)))
			}
			if n.Kind == NodeKindCondition && n.ConditionPath == "" {
				diags = append(diags, errPrompt("TS-005", npath,
					fmt.Sprintf("workflow %q condition node %q is missing condition_path", w.ID, n.ID),
					fmt.Sprintf("What should the %q workflow check before continuing?", w.ID)))
			}
		}
		for j, e := range w.Edges {
			epath := fmt.Sprintf("%s.edges[%d]", path, j)
			if !nodes[e.From] || !nodes[e.To] {
				diags = append(diags, errPrompt("TS-004", epath,
					fmt.Sprintf("workflow %q edge %s->%s references an unknown node", w.ID, e.From, e.To), ""))
			}
		}
		if hasCycle(nodeIDs(w.Nodes), workflowAdjacency(w)) {
			diags = append(diags, errPrompt("TS-008", path,
				fmt.Sprintf("workflow %q contains a cycle", w.ID),
				fmt.Sprintf("The steps of %q depend on each other in a loop. What order should they run in?", w.ID)))
		}
	}
	return diags
}

func validateGraphs(s *ToolSystemSpec) []Diagnostic {
	diags := make([]Diagnostic, 0)
	actions := actionIDSet(s)

	for i, g := range s.Graphs {
		path := fmt.Sprintf("graphs[%d]", i)
		nodes := make(map[string]bool, len(g.Nodes))
		ids := make([]string, 0, len(g.Nodes))
		for j, n := range g.Nodes {
			npath := fmt.Sprintf("%s.nodes[%d]", path, j)
			if nodes[n.ID] {
				diags = append(diags, errPrompt("TS-003", npath,
					fmt.Sprintf("graph %q has duplicate node id %q", g.ID, n.ID), ""))
			}
			nodes[n.ID] = true
			ids = append(ids, n.ID)
			if !actions[n.ActionID] {
				diags = append(diags, errPrompt("TS-004", npath,
					fmt.Sprintf("graph %q node %q references unknown action %q", g.ID, n.ID, n.ActionID), ""))
			}
		}
		adj := make(map[string][]string)
		for j, e := range g.Edges {
			epath := fmt.Sprintf("%s.edges[%d]", path, j)
			if !nodes[e.From] || !nodes[e.To] {
				diags = append(diags, errPrompt("TS-004", epath,
					fmt.Sprintf("graph %q edge %s->%s references an unknown node", g.ID, e.From, e.To), ""))
				continue
			}
			adj[e.From] = append(adj[e.From], e.To)
		}
		if hasCycle(ids, adj) {
			diags = append(diags, errPrompt("TS-008", path,
				fmt.Sprintf("graph %q contains a cycle", g.ID), ""))
		}
	}
	return diags
}

func validateTriggers(s *ToolSystemSpec) []Diagnostic {
	diags := make([]Diagnostic, 0)
	actions := actionIDSet(s)
	workflows := make(map[string]bool, len(s.Workflows))
	for _, w := range s.Workflows {
		workflows[w.ID] = true
	}

	for i, t := range s.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		if t.ActionID == "" && t.WorkflowID == "" {
			diags = append(diags, errPrompt("TS-004", path,
				fmt.Sprintf("trigger %q binds neither an action nor a workflow", t.ID),
				fmt.Sprintf("What should happen when %q fires?", t.ID)))
		}
		if t.ActionID != "" && !actions[t.ActionID] {
			diags = append(diags, errPrompt("TS-004", path,
				fmt.Sprintf("trigger %q references unknown action %q", t.ID, t.ActionID), ""))
		}
		if t.WorkflowID != "" && !workflows[t.WorkflowID] {
			diags = append(diags, errPrompt("TS-004", path,
				fmt.Sprintf("trigger %q references unknown workflow %q", t.ID, t.WorkflowID), ""))
		}
		if t.Schedule != "" {
			if err := ValidateSchedule(t.Schedule); err != nil {
				diags = append(diags, errPrompt("TS-010", path,
					fmt.Sprintf("trigger %q has invalid schedule: %v", t.ID, err),
					fmt.Sprintf("How often should %q run?", t.ID)))
			}
		}
	}
	return diags
}

func validateViews(s *ToolSystemSpec) []Diagnostic {
	diags := make([]Diagnostic, 0)
	actions := actionIDSet(s)
	entities := make(map[string]bool, len(s.Entities))
	for _, e := range s.Entities {
		entities[e.Name] = true
	}

	for i, v := range s.Views {
		path := fmt.Sprintf("views[%d]", i)
		if !entities[v.SourceEntity] {
			diags = append(diags, errPrompt("TS-006", path,
				fmt.Sprintf("view %q references unknown entity %q", v.ID, v.SourceEntity),
				fmt.Sprintf("What data should the %q view show?", v.ID)))
		}
		for j, aid := range v.ActionIDs {
			if !actions[aid] {
				diags = append(diags, errPrompt("TS-006", fmt.Sprintf("%s.actions[%d]", path, j),
					fmt.Sprintf("view %q references unknown action %q", v.ID, aid), ""))
			}
		}
	}
	return diags
}

func actionIDSet(s *ToolSystemSpec) map[string]bool {
	out := make(map[string]bool, len(s.Actions))
	for _, a := range s.Actions {
		out[a.ID] = true
	}
	return out
}

func errPrompt(code, path, message, prompt string) Diagnostic {
	return Diagnostic{
		Code:     code,
		Severity: SeverityError,
		Message:  message,
		Path:     path,
		Prompt:   prompt,
	}
}
