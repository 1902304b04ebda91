package spec

import (
	"fmt"
	"sync"

	"github.com/forgeworks-ai/toolforge/registry"
)

// Compile resolves and validates a declared spec into an executable
// artifact with no dangling cross-references. Any violation fails with an
// error naming the offending id; a partial artifact is never returned.
//
// Checks run in order: capability registration and integration match,
// integration declaration, duplicate ids, workflow/trigger reference
// resolution, view reference resolution, then structural graph checks
// (cycles, cron expressions).
func Compile(s *ToolSystemSpec, caps registry.Provider) (*ExecutableTool, error) {
	if s == nil {
		return nil, verr("TS-000", "", "spec is nil")
	}

	integrations := make(map[string]Integration, len(s.Integrations))
	for i, in := range s.Integrations {
		if _, dup := integrations[in.ID]; dup {
			return nil, verr("TS-003", fmt.Sprintf("integrations[%d]", i),
				"duplicate integration id %q", in.ID)
		}
		integrations[in.ID] = in
	}

	reducers := make(map[string]Reducer, len(s.State.Reducers))
	for i, r := range s.State.Reducers {
		if _, dup := reducers[r.ID]; dup {
			return nil, verr("TS-003", fmt.Sprintf("state.reducers[%d]", i),
				"duplicate reducer id %q", r.ID)
		}
		if !validReducerKind(r.Kind) {
			return nil, verr("TS-007", fmt.Sprintf("state.reducers[%d]", i),
				"reducer %q has unknown kind %q", r.ID, r.Kind)
		}
		reducers[r.ID] = r
	}

	actions := make(map[string]Action, len(s.Actions))
	for i, a := range s.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if _, dup := actions[a.ID]; dup {
			return nil, verr("TS-003", path, "duplicate action id %q", a.ID)
		}

		capability, ok := caps.GetCapability(a.CapabilityID)
		if !ok {
			return nil, verr("TS-001", path,
				"action %q uses unregistered capability %q", a.ID, a.CapabilityID)
		}
		if capability.IntegrationID != a.IntegrationID {
			return nil, verr("TS-001", path,
				"action %q declares integration %q but capability %q belongs to %q",
				a.ID, a.IntegrationID, a.CapabilityID, capability.IntegrationID)
		}
		if _, ok := integrations[a.IntegrationID]; !ok {
			return nil, verr("TS-002", path,
				"action %q references undeclared integration %q", a.ID, a.IntegrationID)
		}
		if a.ReducerID != "" {
			if _, ok := reducers[a.ReducerID]; !ok {
				return nil, verr("TS-004", path,
					"action %q references unknown reducer %q", a.ID, a.ReducerID)
			}
		}
		actions[a.ID] = a
	}

	// Ids must be unique across actions, workflows, triggers, and views so
	// that trigger bindings and view bindings are unambiguous.
	seen := make(map[string]string, len(actions))
	for id := range actions {
		seen[id] = "action"
	}

	workflows := make(map[string]Workflow, len(s.Workflows))
	for i, w := range s.Workflows {
		path := fmt.Sprintf("workflows[%d]", i)
		if kind, dup := seen[w.ID]; dup {
			return nil, verr("TS-003", path, "workflow id %q collides with %s id", w.ID, kind)
		}
		if err := compileWorkflow(path, w, actions); err != nil {
			return nil, err
		}
		workflows[w.ID] = w
		seen[w.ID] = "workflow"
	}

	graphs := make(map[string]ActionGraph, len(s.Graphs))
	for i, g := range s.Graphs {
		path := fmt.Sprintf("graphs[%d]", i)
		if kind, dup := seen[g.ID]; dup {
			return nil, verr("TS-003", path, "graph id %q collides with %s id", g.ID, kind)
		}
		if err := compileGraph(path, g, actions); err != nil {
			return nil, err
		}
		graphs[g.ID] = g
		seen[g.ID] = "graph"
	}

	triggers := make(map[string]Trigger, len(s.Triggers))
	for i, t := range s.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		if kind, dup := seen[t.ID]; dup {
			return nil, verr("TS-003", path, "trigger id %q collides with %s id", t.ID, kind)
		}
		if err := compileTrigger(path, t, actions, workflows); err != nil {
			return nil, err
		}
		triggers[t.ID] = t
		seen[t.ID] = "trigger"
	}

	entities := make(map[string]Entity, len(s.Entities))
	for i, e := range s.Entities {
		path := fmt.Sprintf("entities[%d]", i)
		if _, dup := entities[e.Name]; dup {
			return nil, verr("TS-003", path, "duplicate entity %q", e.Name)
		}
		if e.Integration != "" {
			if _, ok := integrations[e.Integration]; !ok {
				return nil, verr("TS-002", path,
					"entity %q references undeclared integration %q", e.Name, e.Integration)
			}
		}
		entities[e.Name] = e
	}

	views := make(map[string]View, len(s.Views))
	for i, v := range s.Views {
		path := fmt.Sprintf("views[%d]", i)
		if kind, dup := seen[v.ID]; dup {
			return nil, verr("TS-003", path, "view id %q collides with %s id", v.ID, kind)
		}
		if _, ok := entities[v.SourceEntity]; !ok {
			return nil, verr("TS-006", path,
				"view %q references unknown entity %q", v.ID, v.SourceEntity)
		}
		for j, aid := range v.ActionIDs {
			if _, ok := actions[aid]; !ok {
				return nil, verr("TS-006", fmt.Sprintf("%s.actions[%d]", path, j),
					"view %q references unknown action %q", v.ID, aid)
			}
		}
		views[v.ID] = v
		seen[v.ID] = "view"
	}

	hash, err := Hash(s)
	if err != nil {
		return nil, verr("TS-009", "", "spec hash: %v", err)
	}

	return &ExecutableTool{
		Name:         s.Name,
		SpecHash:     hash,
		Entities:     entities,
		Integrations: integrations,
		Actions:      actions,
		Workflows:    workflows,
		Graphs:       graphs,
		Triggers:     triggers,
		Views:        views,
		Reducers:     reducers,
		InitialState: s.State.Initial,
	}, nil
}

func compileWorkflow(path string, w Workflow, actions map[string]Action) error {
	nodes := make(map[string]WorkflowNode, len(w.Nodes))
	for i, n := range w.Nodes {
		npath := fmt.Sprintf("%s.nodes[%d]", path, i)
		if _, dup := nodes[n.ID]; dup {
			return verr("TS-003", npath, "workflow %q has duplicate node id %q", w.ID, n.ID)
		}
		switch n.Kind {
		case NodeKindAction:
			if _, ok := actions[n.ActionID]; !ok {
				return verr("TS-004", npath,
					"workflow %q node %q references unknown action %q", w.ID, n.ID, n.ActionID)
			}
		case NodeKindCondition:
			if n.ConditionPath == "" {
				return verr("TS-005", npath,
					"workflow %q condition node %q is missing condition_path", w.ID, n.ID)
			}
		case NodeKindWait, NodeKindTransform:
			// no references to resolve
		default:
			return verr("TS-005", npath,
				"workflow %q node %q has unknown kind %q", w.ID, n.ID, n.Kind)
		}
		nodes[n.ID] = n
	}

	for i, e := range w.Edges {
		epath := fmt.Sprintf("%s.edges[%d]", path, i)
		if _, ok := nodes[e.From]; !ok {
			return verr("TS-004", epath,
				"workflow %q edge references unknown node %q", w.ID, e.From)
		}
		if _, ok := nodes[e.To]; !ok {
			return verr("TS-004", epath,
				"workflow %q edge references unknown node %q", w.ID, e.To)
		}
	}

	if hasCycle(nodeIDs(w.Nodes), workflowAdjacency(w)) {
		return verr("TS-008", path, "workflow %q contains a cycle", w.ID)
	}
	return nil
}

func compileGraph(path string, g ActionGraph, actions map[string]Action) error {
	nodes := make(map[string]GraphNode, len(g.Nodes))
	for i, n := range g.Nodes {
		npath := fmt.Sprintf("%s.nodes[%d]", path, i)
		if _, dup := nodes[n.ID]; dup {
			return verr("TS-003", npath, "graph %q has duplicate node id %q", g.ID, n.ID)
		}
		if _, ok := actions[n.ActionID]; !ok {
			return verr("TS-004", npath,
				"graph %q node %q references unknown action %q", g.ID, n.ID, n.ActionID)
		}
		nodes[n.ID] = n
	}

	for i, e := range g.Edges {
		epath := fmt.Sprintf("%s.edges[%d]", path, i)
		if _, ok := nodes[e.From]; !ok {
			return verr("TS-004", epath,
				"graph %q edge references unknown node %q", g.ID, e.From)
		}
		if _, ok := nodes[e.To]; !ok {
			return verr("TS-004", epath,
				"graph %q edge references unknown node %q", g.ID, e.To)
		}
		switch e.Kind {
		case EdgeSuccess, EdgeFailure, EdgeDefault, "":
		default:
			return verr("TS-005", epath,
				"graph %q edge has unknown kind %q", g.ID, e.Kind)
		}
	}

	// The runtime's visited set already prevents re-execution, but a cyclic
	// graph is rejected here so no side effect ever runs for one.
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	if hasCycle(ids, adj) {
		return verr("TS-008", path, "graph %q contains a cycle", g.ID)
	}
	return nil
}

func compileTrigger(path string, t Trigger, actions map[string]Action, workflows map[string]Workflow) error {
	if t.ActionID == "" && t.WorkflowID == "" {
		return verr("TS-004", path, "trigger %q binds neither an action nor a workflow", t.ID)
	}
	if t.ActionID != "" {
		if _, ok := actions[t.ActionID]; !ok {
			return verr("TS-004", path,
				"trigger %q references unknown action %q", t.ID, t.ActionID)
		}
	}
	if t.WorkflowID != "" {
		if _, ok := workflows[t.WorkflowID]; !ok {
			return verr("TS-004", path,
				"trigger %q references unknown workflow %q", t.ID, t.WorkflowID)
		}
	}
	if t.Schedule != "" {
		if err := ValidateSchedule(t.Schedule); err != nil {
			return verr("TS-010", path,
				"trigger %q has invalid schedule: %v", t.ID, err)
		}
	}
	return nil
}

func validReducerKind(k ReducerKind) bool {
	switch k {
	case ReducerSet, ReducerMerge, ReducerAppend, ReducerRemove:
		return true
	}
	return false
}

func nodeIDs(nodes []WorkflowNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func workflowAdjacency(w Workflow) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range w.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

// hasCycle runs Kahn's algorithm over the adjacency and reports whether
// any node could not be ordered.
func hasCycle(ids []string, adj map[string][]string) bool {
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, succs := range adj {
		for _, s := range succs {
			inDegree[s]++
		}
	}

	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range adj[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	return visited < len(ids)
}

// Compiler caches compiled artifacts by spec hash so a tool is compiled
// once per spec revision.
type Compiler struct {
	caps registry.Provider

	mu    sync.Mutex
	cache map[string]*ExecutableTool
}

// NewCompiler creates a caching compiler backed by the given registry.
func NewCompiler(caps registry.Provider) *Compiler {
	return &Compiler{
		caps:  caps,
		cache: make(map[string]*ExecutableTool),
	}
}

// Compile returns the cached artifact for the spec's hash, compiling on miss.
func (c *Compiler) Compile(s *ToolSystemSpec) (*ExecutableTool, error) {
	hash, err := Hash(s)
	if err != nil {
		return nil, verr("TS-009", "", "spec hash: %v", err)
	}

	c.mu.Lock()
	cached, ok := c.cache[hash]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	tool, err := Compile(s, c.caps)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[hash] = tool
	c.mu.Unlock()
	return tool, nil
}
