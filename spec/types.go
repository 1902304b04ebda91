// Package spec defines the Tool System Specification data model, the hard
// compile gate that turns a declared spec into an executable artifact, and
// an advisory validator that surfaces clarification prompts instead of
// failing.
package spec

// ReducerKind identifies how an action's output is folded into tool state.
type ReducerKind string

const (
	// ReducerSet replaces the whole state value with the output.
	ReducerSet ReducerKind = "set"

	// ReducerMerge shallow-merges the output into a named state field.
	ReducerMerge ReducerKind = "merge"

	// ReducerAppend concatenates the output onto a list-valued field.
	ReducerAppend ReducerKind = "append"

	// ReducerRemove filters items out of a list-valued field by id.
	ReducerRemove ReducerKind = "remove"
)

// NodeKind identifies the type of a workflow node.
// The set is fixed; workflows are not a general-purpose language.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindWait      NodeKind = "wait"
	NodeKindTransform NodeKind = "transform"
)

// EdgeKind types an action-graph edge.
type EdgeKind string

const (
	EdgeSuccess EdgeKind = "success"
	EdgeFailure EdgeKind = "failure"
	EdgeDefault EdgeKind = "default"
)

// Field describes one entity field.
type Field struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Entity is a named data shape sourced from an integration.
type Entity struct {
	Name        string   `yaml:"name" json:"name"`
	Integration string   `yaml:"integration,omitempty" json:"integration,omitempty"`
	Fields      []Field  `yaml:"fields,omitempty" json:"fields,omitempty"`
	Identifiers []string `yaml:"identifiers,omitempty" json:"identifiers,omitempty"`
}

// Integration declares an external system and the capabilities the tool uses.
type Integration struct {
	ID           string   `yaml:"id" json:"id"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// Action binds one integration capability to a state reducer.
type Action struct {
	ID               string   `yaml:"id" json:"id"`
	IntegrationID    string   `yaml:"integration" json:"integration"`
	CapabilityID     string   `yaml:"capability" json:"capability"`
	ReducerID        string   `yaml:"reducer,omitempty" json:"reducer,omitempty"`
	RequiresApproval bool     `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
	Emits            []string `yaml:"emits,omitempty" json:"emits,omitempty"`
}

// WorkflowNode is one node in a workflow DAG.
type WorkflowNode struct {
	ID       string   `yaml:"id" json:"id"`
	Kind     NodeKind `yaml:"kind" json:"kind"`
	ActionID string   `yaml:"action,omitempty" json:"action,omitempty"`

	// ConditionPath is a dotted state path for condition nodes.
	// A falsy value blocks (not fails) the run.
	ConditionPath string `yaml:"condition_path,omitempty" json:"condition_path,omitempty"`

	// WaitMS is the fixed sleep duration for wait nodes, in milliseconds.
	WaitMS int `yaml:"wait_ms,omitempty" json:"wait_ms,omitempty"`
}

// WorkflowEdge is a plain dependency edge between two workflow nodes.
type WorkflowEdge struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// RetryPolicy controls action-node retries inside a workflow.
// Backoff is constant, not exponential: workflow actions talk to
// rate-limited SaaS APIs where a predictable call cadence matters more
// than congestion avoidance.
type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BackoffMS   int `yaml:"backoff_ms,omitempty" json:"backoff_ms,omitempty"`
}

// Workflow is a strict DAG of typed nodes executed in topological order.
type Workflow struct {
	ID    string         `yaml:"id" json:"id"`
	Nodes []WorkflowNode `yaml:"nodes" json:"nodes"`
	Edges []WorkflowEdge `yaml:"edges,omitempty" json:"edges,omitempty"`
	Retry RetryPolicy    `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// GraphNode is one node of a general action graph.
type GraphNode struct {
	ID       string `yaml:"id" json:"id"`
	ActionID string `yaml:"action" json:"action"`
}

// GraphEdge is a typed, optionally conditional action-graph edge.
// Condition is a dotted path evaluated against {output, error, state}.
type GraphEdge struct {
	From      string   `yaml:"from" json:"from"`
	To        string   `yaml:"to" json:"to"`
	Kind      EdgeKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Condition string   `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// ActionGraph is a general directed graph of actions with typed edges.
type ActionGraph struct {
	ID    string      `yaml:"id" json:"id"`
	Nodes []GraphNode `yaml:"nodes" json:"nodes"`
	Edges []GraphEdge `yaml:"edges,omitempty" json:"edges,omitempty"`
}

// Trigger binds a condition to an action or workflow.
// Schedule, when set, is a UTC five-field cron expression.
type Trigger struct {
	ID         string `yaml:"id" json:"id"`
	Event      string `yaml:"event,omitempty" json:"event,omitempty"`
	Schedule   string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	ActionID   string `yaml:"action,omitempty" json:"action,omitempty"`
	WorkflowID string `yaml:"workflow,omitempty" json:"workflow,omitempty"`
}

// View exposes an entity with bound actions for presentation.
type View struct {
	ID           string   `yaml:"id" json:"id"`
	SourceEntity string   `yaml:"entity" json:"entity"`
	ActionIDs    []string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Reducer declares how a named reducer folds output into state.
type Reducer struct {
	ID    string      `yaml:"id" json:"id"`
	Kind  ReducerKind `yaml:"kind" json:"kind"`
	Field string      `yaml:"field,omitempty" json:"field,omitempty"`
}

// StateSpec declares initial tool state and the reducers that mutate it.
type StateSpec struct {
	Initial  map[string]any `yaml:"initial,omitempty" json:"initial,omitempty"`
	Reducers []Reducer      `yaml:"reducers,omitempty" json:"reducers,omitempty"`
}

// MemoryNamespace declares a namespace the tool writes memory under.
type MemoryNamespace struct {
	Name  string `yaml:"name" json:"name"`
	Scope string `yaml:"scope" json:"scope"`
}

// Permission grants an integration operation to the tool.
type Permission struct {
	IntegrationID string   `yaml:"integration" json:"integration"`
	Operations    []string `yaml:"operations" json:"operations"`
}

// ToolSystemSpec is the declarative Tool System Specification produced by
// the upstream natural-language compiler.
type ToolSystemSpec struct {
	Name         string            `yaml:"name" json:"name"`
	Entities     []Entity          `yaml:"entities,omitempty" json:"entities,omitempty"`
	Integrations []Integration     `yaml:"integrations,omitempty" json:"integrations,omitempty"`
	Actions      []Action          `yaml:"actions,omitempty" json:"actions,omitempty"`
	Workflows    []Workflow        `yaml:"workflows,omitempty" json:"workflows,omitempty"`
	Graphs       []ActionGraph     `yaml:"graphs,omitempty" json:"graphs,omitempty"`
	Triggers     []Trigger         `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Views        []View            `yaml:"views,omitempty" json:"views,omitempty"`
	State        StateSpec         `yaml:"state,omitempty" json:"state,omitempty"`
	Memory       []MemoryNamespace `yaml:"memory,omitempty" json:"memory,omitempty"`
	Permissions  []Permission      `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// ExecutableTool is the compiled artifact: id-indexed maps with no dangling
// cross-references, built once per spec revision and cached by spec hash.
type ExecutableTool struct {
	Name         string
	SpecHash     string
	Entities     map[string]Entity
	Integrations map[string]Integration
	Actions      map[string]Action
	Workflows    map[string]Workflow
	Graphs       map[string]ActionGraph
	Triggers     map[string]Trigger
	Views        map[string]View
	Reducers     map[string]Reducer
	InitialState map[string]any
}

// ActionByID returns a declared action, reporting presence.
func (t *ExecutableTool) ActionByID(id string) (Action, bool) {
	a, ok := t.Actions[id]
	return a, ok
}

// WorkflowByID returns a declared workflow, reporting presence.
func (t *ExecutableTool) WorkflowByID(id string) (Workflow, bool) {
	w, ok := t.Workflows[id]
	return w, ok
}

// ReducerByID returns a declared reducer, reporting presence.
func (t *ExecutableTool) ReducerByID(id string) (Reducer, bool) {
	r, ok := t.Reducers[id]
	return r, ok
}
