// Package lifecycle governs the build and execution state of a tool. All
// terminal transitions funnel through one exclusive finalize barrier, the
// only legal writer of a terminal status, so a partial success can never be
// exposed as success.
package lifecycle

import (
	"context"
	"time"
)

// State is the lifecycle state of one tool.
type State string

const (
	StateCreated      State = "created"
	StatePlanned      State = "planned"
	StateExecuting    State = "executing"
	StateReady        State = "ready"
	StateMaterialized State = "materialized"
	StateFailed       State = "failed"
	StateDegraded     State = "degraded"
	StateCorrupted    State = "corrupted"
)

// Terminal reports whether s is only reachable through the finalize
// barrier.
func (s State) Terminal() bool {
	switch s {
	case StateMaterialized, StateFailed, StateDegraded, StateCorrupted:
		return true
	}
	return false
}

// Record is the lifecycle record of one tool. It is written exclusively
// through the finalize barrier and the non-terminal transition helpers.
type Record struct {
	ToolID string `json:"tool_id"`
	OrgID  string `json:"org_id"`
	State  State  `json:"state"`

	ErrorMessage string     `json:"error_message,omitempty"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`

	DataReady bool `json:"data_ready"`
	ViewReady bool `json:"view_ready"`

	// NeedsClarification is a sub-state blocking readiness: the tool is
	// waiting on an answer to ClarifyingQuestion before it can execute.
	NeedsClarification bool   `json:"needs_clarification,omitempty"`
	ClarifyingQuestion string `json:"clarifying_question,omitempty"`

	// Snapshot and ViewSpec are the materialized payloads the barrier
	// inspects before admitting a MATERIALIZED claim.
	Snapshot map[string]any `json:"snapshot,omitempty"`
	ViewSpec map[string]any `json:"view_spec,omitempty"`

	// SpecHash records the compiled artifact the tool was finalized
	// against, for staleness detection in CanExecuteTool.
	SpecHash string `json:"spec_hash,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// RecordStore persists lifecycle records. Implementations must make Put
// followed by Get observe the written record; the barrier verifies its
// commit with a readback.
type RecordStore interface {
	Get(ctx context.Context, orgID, toolID string) (*Record, bool, error)
	Put(ctx context.Context, record *Record) error
}
