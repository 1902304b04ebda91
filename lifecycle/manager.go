package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeworks-ai/toolforge/memory"
	"github.com/forgeworks-ai/toolforge/runtime"
	"github.com/forgeworks-ai/toolforge/spec"
)

// ViewDecision is a presentation decision folded into the lifecycle view
// spec. The barrier treats this decision, not a raw satisfaction level, as
// the source of view-readiness.
type ViewDecision string

const (
	DecisionRender        ViewDecision = "render"
	DecisionRenderPartial ViewDecision = "render_partial"
	DecisionExplain       ViewDecision = "explain"
	DecisionAsk           ViewDecision = "ask"
)

// Gate errors returned by CanExecuteTool.
var (
	ErrToolNotFinalized      = errors.New("tool has not completed a build")
	ErrToolNotExecutable     = errors.New("tool lifecycle state does not permit execution")
	ErrNoCompiledArtifact    = errors.New("no active compiled artifact")
	ErrStaleArtifact         = errors.New("compiled artifact is stale against the current spec")
	ErrAwaitingClarification = errors.New("tool is awaiting clarification")
)

// ErrTerminalViaBarrier rejects direct transitions into terminal states.
var ErrTerminalViaBarrier = errors.New("terminal states are reachable only through Finalize")

// buildLogLimit bounds the rolling build log kept in reserved memory.
const buildLogLimit = 100

// FinalizeRequest is one claim presented to the finalize barrier.
type FinalizeRequest struct {
	OrgID  string
	ToolID string

	// RequestedState is the terminal state the caller claims. The barrier
	// verifies the claim and may redirect it.
	RequestedState State

	ErrorMessage string
	Snapshot     map[string]any
	ViewSpec     map[string]any
	SpecHash     string

	// ViewDecision comes from the rendering decision of goal validation.
	// Empty means no view was evaluated this build.
	ViewDecision ViewDecision

	// ClarifyingQuestion accompanies an ask decision.
	ClarifyingQuestion string
}

// GateRequest is one CanExecuteTool check.
type GateRequest struct {
	OrgID    string
	ToolID   string
	Artifact *spec.ExecutableTool
	Spec     *spec.ToolSystemSpec
}

// BuildLogEntry is one immutable line of the rolling build log.
type BuildLogEntry struct {
	Time    time.Time `json:"time"`
	State   State     `json:"state"`
	Message string    `json:"message"`
}

// Manager owns lifecycle records. Terminal transitions go through
// Finalize; everything else through Transition. The mutex makes the
// barrier exclusive within the process, matching the single-invocation
// execution model.
type Manager struct {
	mu      sync.Mutex
	records RecordStore
	mem     *memory.Store
	now     func() time.Time
	logger  *slog.Logger
}

// ManagerConfig wires a lifecycle manager.
type ManagerConfig struct {
	Records RecordStore
	Memory  *memory.Store

	// Now provides the current time (for testing).
	Now func() time.Time

	Logger *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Records == nil {
		return nil, fmt.Errorf("lifecycle: record store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		records: cfg.Records,
		mem:     cfg.Memory,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// Finalize is the exclusive barrier into terminal lifecycle states. It
// never trusts the caller's requested status: a MATERIALIZED claim without
// a non-empty data snapshot or view spec is redirected to FAILED with a
// synthetic reason, and the committed record is verified with a readback
// before the call returns.
func (m *Manager) Finalize(ctx context.Context, req FinalizeRequest) (*Record, error) {
	if !req.RequestedState.Terminal() {
		return nil, fmt.Errorf("lifecycle: finalize with non-terminal state %q", req.RequestedState)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok, err := m.records.Get(ctx, req.OrgID, req.ToolID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load record: %w", err)
	}
	if !ok {
		record = &Record{ToolID: req.ToolID, OrgID: req.OrgID, State: StateCreated}
	}

	state := req.RequestedState
	errorMessage := req.ErrorMessage
	if state == StateMaterialized && len(req.Snapshot) == 0 && len(req.ViewSpec) == 0 {
		state = StateFailed
		errorMessage = "materialization produced no data snapshot and no view specification"
		m.logger.Warn("finalize redirected to failed",
			"tool_id", req.ToolID, "requested", string(req.RequestedState), "reason", errorMessage)
	}

	now := m.now()
	record.State = state
	record.ErrorMessage = errorMessage
	record.FinalizedAt = &now
	record.Snapshot = req.Snapshot
	record.ViewSpec = req.ViewSpec
	record.SpecHash = req.SpecHash
	record.DataReady = state == StateMaterialized && len(req.Snapshot) > 0
	record.ViewReady = state == StateMaterialized &&
		(req.ViewDecision == DecisionRender || req.ViewDecision == DecisionRenderPartial)
	record.NeedsClarification = req.ViewDecision == DecisionAsk
	record.ClarifyingQuestion = ""
	if record.NeedsClarification {
		record.ClarifyingQuestion = req.ClarifyingQuestion
	}
	record.UpdatedAt = now

	if err := m.records.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("lifecycle: commit record: %w", err)
	}

	// Readback verification. An optimistic return here would let a failed
	// commit masquerade as a terminal state.
	committed, ok, err := m.records.Get(ctx, req.OrgID, req.ToolID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: verify commit: %w", err)
	}
	if !ok || committed.State != record.State || committed.FinalizedAt == nil {
		return nil, runtime.FatalInvariant(
			"lifecycle readback mismatch for tool %s: wrote %q, read %q",
			req.ToolID, record.State, readbackState(committed, ok))
	}

	m.appendBuildLog(ctx, req.OrgID, req.ToolID, BuildLogEntry{
		Time:    now,
		State:   record.State,
		Message: finalizeMessage(req.RequestedState, record),
	})

	return committed, nil
}

func readbackState(record *Record, ok bool) State {
	if !ok || record == nil {
		return ""
	}
	return record.State
}

func finalizeMessage(requested State, record *Record) string {
	if requested != record.State {
		return fmt.Sprintf("finalize: requested %s, committed %s (%s)",
			requested, record.State, record.ErrorMessage)
	}
	if record.ErrorMessage != "" {
		return fmt.Sprintf("finalize: %s (%s)", record.State, record.ErrorMessage)
	}
	return fmt.Sprintf("finalize: %s", record.State)
}

// nonTerminalTransitions is the allowed edge set outside the barrier.
// Terminal states may leave for a rebuild but can only be entered through
// Finalize. CORRUPTED has no outgoing edge; recovery is manual.
var nonTerminalTransitions = map[State][]State{
	StateCreated:      {StatePlanned},
	StatePlanned:      {StateExecuting},
	StateExecuting:    {StateReady},
	StateReady:        {StateExecuting},
	StateMaterialized: {StateExecuting},
	StateFailed:       {StatePlanned},
	StateDegraded:     {StateExecuting},
}

// Transition moves a tool between non-terminal states.
func (m *Manager) Transition(ctx context.Context, orgID, toolID string, to State) (*Record, error) {
	if to.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalViaBarrier, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok, err := m.records.Get(ctx, orgID, toolID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load record: %w", err)
	}
	if !ok {
		record = &Record{ToolID: toolID, OrgID: orgID, State: StateCreated}
	}

	if record.State != to && !transitionAllowed(record.State, to) {
		return nil, fmt.Errorf("lifecycle: illegal transition %s -> %s for tool %s",
			record.State, to, toolID)
	}

	record.State = to
	record.UpdatedAt = m.now()
	if err := m.records.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("lifecycle: commit record: %w", err)
	}

	m.appendBuildLog(ctx, orgID, toolID, BuildLogEntry{
		Time:    record.UpdatedAt,
		State:   to,
		Message: fmt.Sprintf("transition: %s", to),
	})
	return record, nil
}

func transitionAllowed(from, to State) bool {
	for _, next := range nonTerminalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanExecuteTool is the read-side gate. Execution is permitted only when
// the lifecycle state is outside {created, planned, executing, failed,
// corrupted}, no clarification is pending, an active compiled artifact
// exists, and the artifact's recorded spec hash matches a freshly computed
// hash of the current spec. A stale hash means the spec was edited after
// the last compile.
func (m *Manager) CanExecuteTool(ctx context.Context, req GateRequest) error {
	record, ok, err := m.records.Get(ctx, req.OrgID, req.ToolID)
	if err != nil {
		return fmt.Errorf("lifecycle: load record: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: tool %s", ErrToolNotFinalized, req.ToolID)
	}

	switch record.State {
	case StateCreated, StatePlanned, StateExecuting, StateFailed, StateCorrupted:
		return fmt.Errorf("%w: tool %s is %s", ErrToolNotExecutable, req.ToolID, record.State)
	}
	if record.NeedsClarification {
		return fmt.Errorf("%w: %s", ErrAwaitingClarification, record.ClarifyingQuestion)
	}
	if req.Artifact == nil {
		return fmt.Errorf("%w: tool %s", ErrNoCompiledArtifact, req.ToolID)
	}
	if req.Spec != nil {
		fresh, err := spec.Hash(req.Spec)
		if err != nil {
			return fmt.Errorf("lifecycle: hash current spec: %w", err)
		}
		if fresh != req.Artifact.SpecHash {
			return fmt.Errorf("%w: tool %s (recompile required)", ErrStaleArtifact, req.ToolID)
		}
	}
	return nil
}

// ResolveClarification clears the clarification sub-state after the user
// answered the pending question.
func (m *Manager) ResolveClarification(ctx context.Context, orgID, toolID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok, err := m.records.Get(ctx, orgID, toolID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load record: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: tool %s", ErrToolNotFinalized, toolID)
	}

	record.NeedsClarification = false
	record.ClarifyingQuestion = ""
	record.UpdatedAt = m.now()
	if err := m.records.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("lifecycle: commit record: %w", err)
	}
	return record, nil
}

// Record returns the current lifecycle record for a tool.
func (m *Manager) Record(ctx context.Context, orgID, toolID string) (*Record, bool, error) {
	return m.records.Get(ctx, orgID, toolID)
}

// BuildLog returns the rolling build log for a tool.
func (m *Manager) BuildLog(ctx context.Context, orgID, toolID string) ([]BuildLogEntry, error) {
	if m.mem == nil {
		return nil, nil
	}
	var entries []BuildLogEntry
	_, err := m.mem.Get(ctx, memory.ToolOrgScope(toolID, orgID),
		memory.NamespaceBuild, memory.KeyBuildLogs, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// appendBuildLog writes to the reserved rolling build log. The log rides
// the must-succeed memory tier but a failure here never blocks a barrier
// commit that already verified.
func (m *Manager) appendBuildLog(ctx context.Context, orgID, toolID string, entry BuildLogEntry) {
	if m.mem == nil {
		return
	}
	scope := memory.ToolOrgScope(toolID, orgID)

	var entries []BuildLogEntry
	if _, err := m.mem.Get(ctx, scope, memory.NamespaceBuild, memory.KeyBuildLogs, &entries); err != nil {
		m.logger.Warn("build log read failed", "tool_id", toolID, "error", err)
		return
	}
	entries = append(entries, entry)
	if len(entries) > buildLogLimit {
		entries = entries[len(entries)-buildLogLimit:]
	}
	if err := m.mem.SetDurable(ctx, scope, memory.NamespaceBuild, memory.KeyBuildLogs, entries); err != nil {
		m.logger.Warn("build log write failed", "tool_id", toolID, "error", err)
	}
}
