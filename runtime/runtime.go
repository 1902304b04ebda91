package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/forgeworks-ai/toolforge/memory"
	"github.com/forgeworks-ai/toolforge/registry"
	"github.com/forgeworks-ai/toolforge/spec"
)

const (
	// DefaultDeadmanTimeout bounds how long a caller waits for one
	// capability invocation. This is a client-side timeout: the underlying
	// call is not cancelled, but a fencing token ensures a late completion
	// never commits state after the caller has already seen a failure.
	DefaultDeadmanTimeout = 60 * time.Second

	stateNamespace   = "state"
	stateCurrentKey  = "current"
	stateHistoryKey  = "history"
	outputsNamespace = "outputs"

	// stateHistoryLimit bounds the rolling state-snapshot history.
	stateHistoryLimit = 4
)

// CredentialResolver resolves a live credential for an integration.
type CredentialResolver interface {
	GetValidAccessToken(ctx context.Context, orgID, integrationID string) (string, error)
}

// LogSink receives immutable action log entries. Persistence is
// best-effort; sink failures are logged, never propagated.
type LogSink interface {
	AppendActionLog(ctx context.Context, entry LogEntry) error
}

// ActionRequest describes one bound action invocation.
type ActionRequest struct {
	OrgID    string
	ToolID   string
	Tool     *spec.ExecutableTool
	ActionID string
	Input    map[string]any

	// UserID, when present, additionally mirrors raw output into
	// user-scoped memory.
	UserID string

	// TriggerID records what fired this invocation, for the log entry.
	TriggerID string
}

// EmittedEvent pairs a declared event name with the action output.
type EmittedEvent struct {
	Name   string `json:"name"`
	Output any    `json:"output"`
}

// LogEntry is one immutable record of an action attempt, success or
// failure. Input and output are sanitized before the entry is built.
type LogEntry struct {
	Time          time.Time `json:"time"`
	OrgID         string    `json:"org_id"`
	ToolID        string    `json:"tool_id"`
	ActionID      string    `json:"action_id"`
	IntegrationID string    `json:"integration_id"`
	CapabilityID  string    `json:"capability_id"`
	TriggerID     string    `json:"trigger_id,omitempty"`
	Status        string    `json:"status"`
	DurationMS    int64     `json:"duration_ms"`
	Input         any       `json:"input,omitempty"`
	Output        any       `json:"output,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// ActionResult is the outcome of a successful action execution.
type ActionResult struct {
	State  map[string]any
	Output any
	Events []EmittedEvent
	Log    LogEntry
}

// Config wires a Runtime.
type Config struct {
	Capabilities registry.Provider
	Credentials  CredentialResolver
	Memory       *memory.Store

	// MaxCallsPerMinute configures the per-(tool, integration) rate limit.
	MaxCallsPerMinute int

	// DeadmanTimeout overrides DefaultDeadmanTimeout.
	DeadmanTimeout time.Duration

	// LogSink persists immutable log entries. Optional.
	LogSink LogSink

	// Now provides the current time (for testing).
	Now func() time.Time

	Logger *slog.Logger
}

// Runtime executes bound actions for compiled tools.
type Runtime struct {
	caps    registry.Provider
	creds   CredentialResolver
	mem     *memory.Store
	limiter *RateLimiter
	sink    LogSink
	deadman time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an action runtime.
func New(cfg Config) (*Runtime, error) {
	if cfg.Capabilities == nil {
		return nil, fmt.Errorf("runtime: capability provider is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("runtime: credential resolver is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("runtime: memory store is required")
	}
	if cfg.DeadmanTimeout <= 0 {
		cfg.DeadmanTimeout = DefaultDeadmanTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runtime{
		caps:    cfg.Capabilities,
		creds:   cfg.Credentials,
		mem:     cfg.Memory,
		limiter: NewRateLimiter(cfg.Memory, cfg.MaxCallsPerMinute, cfg.Now),
		sink:    cfg.LogSink,
		deadman: cfg.DeadmanTimeout,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// Memory exposes the scoped memory store backing this runtime.
func (r *Runtime) Memory() *memory.Store {
	return r.mem
}

// invokeOutcome carries the capability result across the deadman race.
type invokeOutcome struct {
	output any
	err    error
}

// ExecuteToolAction runs one bound action end to end: resolve, gate,
// invoke, reduce, persist. Every attempt, success or failure, produces an
// immutable log entry.
func (r *Runtime) ExecuteToolAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	start := r.now()

	action, ok := req.Tool.ActionByID(req.ActionID)
	if !ok {
		err := newError(CodeActionNotFound,
			fmt.Sprintf("action %q is not declared by tool %q", req.ActionID, req.ToolID),
			false, nil).
			withRemediation("recompile the tool spec or correct the action id")
		r.appendLog(ctx, r.failureLog(req, spec.Action{}, start, err))
		return nil, err
	}

	if action.RequiresApproval && !approvalGranted(req.Input) {
		err := newError(CodeApprovalRequired,
			fmt.Sprintf("action %q requires approval", req.ActionID),
			true, nil).
			withRemediation("resubmit the action with the approval flag set")
		r.appendLog(ctx, r.failureLog(req, action, start, err))
		return nil, err
	}

	token, err := r.creds.GetValidAccessToken(ctx, req.OrgID, action.IntegrationID)
	if err != nil || token == "" {
		werr := newError(CodeCredentialUnavailable,
			fmt.Sprintf("no live credential for integration %q", action.IntegrationID),
			true, err).
			withRemediation("reconnect the integration and retry")
		r.appendLog(ctx, r.failureLog(req, action, start, werr))
		return nil, werr
	}

	if err := r.limiter.Allow(ctx, req.ToolID, action.IntegrationID); err != nil {
		r.appendLog(ctx, r.failureLog(req, action, start, err))
		return nil, err
	}

	executor, ok := r.caps.ExecutorFor(action.CapabilityID)
	if !ok {
		err := newError(CodeCapabilityNotFound,
			fmt.Sprintf("capability %q has no registered executor", action.CapabilityID),
			false, nil)
		r.appendLog(ctx, r.failureLog(req, action, start, err))
		return nil, err
	}

	output, err := r.invokeWithDeadman(ctx, req, action, executor, token)
	if err != nil {
		r.appendLog(ctx, r.failureLog(req, action, start, err))
		return nil, err
	}

	result, err := r.commit(ctx, req, action, output)
	if err != nil {
		r.appendLog(ctx, r.failureLog(req, action, start, err))
		return nil, err
	}

	result.Log = LogEntry{
		Time:          start,
		OrgID:         req.OrgID,
		ToolID:        req.ToolID,
		ActionID:      req.ActionID,
		IntegrationID: action.IntegrationID,
		CapabilityID:  action.CapabilityID,
		TriggerID:     req.TriggerID,
		Status:        "completed",
		DurationMS:    r.now().Sub(start).Milliseconds(),
		Input:         Sanitize(anyMap(req.Input)),
		Output:        Sanitize(output),
	}
	r.appendLog(ctx, result.Log)
	return result, nil
}

// invokeWithDeadman races the capability call against the deadman timer.
// The fencing token is set by whichever side loses patience first: on
// timeout (or cancellation) the caller fences the invocation, and a late
// completion finds the token set and is dropped without any state write.
func (r *Runtime) invokeWithDeadman(
	ctx context.Context,
	req ActionRequest,
	action spec.Action,
	executor registry.Executor,
	token string,
) (any, error) {
	execCtx := map[string]any{
		"org_id":       req.OrgID,
		"tool_id":      req.ToolID,
		"user_id":      req.UserID,
		"access_token": token,
	}

	var fenced atomic.Bool
	done := make(chan invokeOutcome, 1)

	go func() {
		output, err := executor.Execute(ctx, req.Input, execCtx, r.tracer(req))
		if fenced.Load() {
			r.logger.Warn("late action completion dropped by fencing token",
				"tool_id", req.ToolID, "action_id", req.ActionID, "error", err)
			return
		}
		done <- invokeOutcome{output: output, err: err}
	}()

	timer := time.NewTimer(r.deadman)
	defer timer.Stop()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			if rtErr, ok := ErrorFrom(outcome.err); ok {
				return nil, rtErr
			}
			return nil, newError(CodeInvocationFailed,
				fmt.Sprintf("capability %q failed", action.CapabilityID), false, outcome.err)
		}
		return outcome.output, nil
	case <-timer.C:
		fenced.Store(true)
		return nil, newError(CodeExecutionTimeout,
			fmt.Sprintf("capability %q did not complete within %s", action.CapabilityID, r.deadman),
			true, nil).
			withRemediation("the integration may be slow; retry or raise the timeout")
	case <-ctx.Done():
		fenced.Store(true)
		return nil, ctx.Err()
	}
}

// commit applies the declared reducer and persists state, history, and raw
// output. State persistence uses the must-succeed memory tier; the output
// mirrors and snapshot history are best-effort.
func (r *Runtime) commit(ctx context.Context, req ActionRequest, action spec.Action, output any) (*ActionResult, error) {
	toolScope := memory.ToolScope(req.ToolID)

	state := make(map[string]any)
	if _, err := r.mem.Get(ctx, toolScope, stateNamespace, stateCurrentKey, &state); err != nil {
		return nil, err
	}
	if len(state) == 0 && req.Tool.InitialState != nil {
		state = cloneState(req.Tool.InitialState)
	}

	if action.ReducerID != "" {
		reducer, ok := req.Tool.ReducerByID(action.ReducerID)
		if !ok {
			// Compile guarantees resolution, so a miss here means a run is
			// replaying against a spec whose reducer was renamed or removed.
			return nil, newError(CodeReducerNotFound,
				fmt.Sprintf("reducer %q no longer resolves for action %q", action.ReducerID, action.ID),
				false, nil).
				withRemediation("recompile the tool; runs cannot replay against a changed reducer set")
		}
		next, err := ApplyReducer(reducer, state, output)
		if err != nil {
			return nil, newError(CodeInvocationFailed, err.Error(), false, err)
		}

		if err := r.mem.SetDurable(ctx, toolScope, stateNamespace, stateCurrentKey, next); err != nil {
			return nil, newError(CodeStatePersistFailed, "persisting tool state failed", true, err)
		}
		r.appendStateHistory(ctx, toolScope, state)
		state = next
	}

	r.mem.Set(ctx, toolScope, outputsNamespace, action.ID, output)
	if req.UserID != "" {
		r.mem.Set(ctx, memory.UserScope(req.UserID), outputsNamespace, action.ID, output)
	}

	events := make([]EmittedEvent, 0, len(action.Emits))
	for _, name := range action.Emits {
		events = append(events, EmittedEvent{Name: name, Output: output})
	}

	return &ActionResult{State: state, Output: output, Events: events}, nil
}

// appendStateHistory keeps a bounded rolling window of prior snapshots.
func (r *Runtime) appendStateHistory(ctx context.Context, scope memory.Scope, previous map[string]any) {
	var history []map[string]any
	if _, err := r.mem.Get(ctx, scope, stateNamespace, stateHistoryKey, &history); err != nil {
		r.logger.Warn("state history read failed", "error", err)
		return
	}
	history = append(history, previous)
	if len(history) > stateHistoryLimit {
		history = history[len(history)-stateHistoryLimit:]
	}
	r.mem.Set(ctx, scope, stateNamespace, stateHistoryKey, history)
}

func (r *Runtime) failureLog(req ActionRequest, action spec.Action, start time.Time, err error) LogEntry {
	return LogEntry{
		Time:          start,
		OrgID:         req.OrgID,
		ToolID:        req.ToolID,
		ActionID:      req.ActionID,
		IntegrationID: action.IntegrationID,
		CapabilityID:  action.CapabilityID,
		TriggerID:     req.TriggerID,
		Status:        "failed",
		DurationMS:    r.now().Sub(start).Milliseconds(),
		Input:         Sanitize(anyMap(req.Input)),
		Error:         err.Error(),
	}
}

func (r *Runtime) appendLog(ctx context.Context, entry LogEntry) {
	if r.sink == nil {
		return
	}
	if err := r.sink.AppendActionLog(ctx, entry); err != nil {
		r.logger.Warn("action log append failed",
			"tool_id", entry.ToolID, "action_id", entry.ActionID, "error", err)
	}
}

func (r *Runtime) tracer(req ActionRequest) registry.Tracer {
	return slogTracer{logger: r.logger, toolID: req.ToolID, actionID: req.ActionID}
}

type slogTracer struct {
	logger   *slog.Logger
	toolID   string
	actionID string
}

func (t slogTracer) Trace(event string, fields map[string]any) {
	args := make([]any, 0, 2*len(fields)+4)
	args = append(args, "tool_id", t.toolID, "action_id", t.actionID)
	for k, v := range fields {
		args = append(args, k, v)
	}
	t.logger.Debug("capability trace: "+event, args...)
}

func approvalGranted(input map[string]any) bool {
	if input == nil {
		return false
	}
	approved, _ := input["approved"].(bool)
	return approved
}

func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
