package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/forgeworks-ai/toolforge/memory"
	"github.com/forgeworks-ai/toolforge/registry"
	"github.com/forgeworks-ai/toolforge/spec"
)

type fakeCredentials struct {
	token string
	err   error
}

func (c fakeCredentials) GetValidAccessToken(ctx context.Context, orgID, integrationID string) (string, error) {
	return c.token, c.err
}

type captureSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (s *captureSink) AppendActionLog(ctx context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureSink) last(t *testing.T) LogEntry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		t.Fatal("no log entries recorded")
	}
	return s.entries[len(s.entries)-1]
}

func testTool() *spec.ExecutableTool {
	return &spec.ExecutableTool{
		Name:     "build-watcher",
		SpecHash: "abc123",
		Actions: map[string]spec.Action{
			"fetch_commits": {
				ID:            "fetch_commits",
				IntegrationID: "github",
				CapabilityID:  "github.list_commits",
				ReducerID:     "store_commits",
				Emits:         []string{"commits_fetched"},
			},
			"delete_repo": {
				ID:               "delete_repo",
				IntegrationID:    "github",
				CapabilityID:     "github.delete_repo",
				RequiresApproval: true,
			},
		},
		Reducers: map[string]spec.Reducer{
			"store_commits": {ID: "store_commits", Kind: spec.ReducerSet, Field: "commits"},
		},
		InitialState: map[string]any{"commits": []any{}},
	}
}

type runtimeFixture struct {
	rt   *Runtime
	mem  *memory.Store
	reg  *registry.Registry
	sink *captureSink
}

func newFixture(t *testing.T, mutate func(cfg *Config)) *runtimeFixture {
	t.Helper()
	mem := memory.NewStoreWithAdapter(memory.NewMemAdapter())
	reg := registry.New()
	reg.Register(registry.Capability{ID: "github.list_commits", IntegrationID: "github"},
		registry.ExecutorFunc(func(ctx context.Context, params, execCtx map[string]any, tracer registry.Tracer) (any, error) {
			return []any{map[string]any{"id": "c1"}}, nil
		}))
	sink := &captureSink{}

	cfg := Config{
		Capabilities: reg,
		Credentials:  fakeCredentials{token: "live-token"},
		Memory:       mem,
		LogSink:      sink,
		Logger:       slog.New(slog.DiscardHandler),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &runtimeFixture{rt: rt, mem: mem, reg: reg, sink: sink}
}

func fetchRequest() ActionRequest {
	return ActionRequest{
		OrgID:    "org-1",
		ToolID:   "tool-1",
		Tool:     testTool(),
		ActionID: "fetch_commits",
		UserID:   "user-1",
		Input:    map[string]any{"branch": "main"},
	}
}

func TestExecuteToolActionCommitsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	result, err := f.rt.ExecuteToolAction(ctx, fetchRequest())
	if err != nil {
		t.Fatalf("ExecuteToolAction() error = %v", err)
	}

	commits, ok := result.State["commits"].([]any)
	if !ok || len(commits) != 1 {
		t.Errorf("state commits = %v", result.State["commits"])
	}
	if len(result.Events) != 1 || result.Events[0].Name != "commits_fetched" {
		t.Errorf("events = %v", result.Events)
	}
	if result.Log.Status != "completed" {
		t.Errorf("log status = %q", result.Log.Status)
	}

	// State round trips through the durable tier.
	var persisted map[string]any
	ok, err = f.mem.Get(ctx, memory.ToolScope("tool-1"), "state", "current", &persisted)
	if err != nil || !ok {
		t.Fatalf("state not persisted: present=%v err=%v", ok, err)
	}

	// Raw output mirrors land in tool and user scope.
	var mirror any
	if ok, _ := f.mem.Get(ctx, memory.ToolScope("tool-1"), "outputs", "fetch_commits", &mirror); !ok {
		t.Error("tool-scope output mirror missing")
	}
	if ok, _ := f.mem.Get(ctx, memory.UserScope("user-1"), "outputs", "fetch_commits", &mirror); !ok {
		t.Error("user-scope output mirror missing")
	}
}

func TestExecuteToolActionUnknownAction(t *testing.T) {
	f := newFixture(t, nil)

	req := fetchRequest()
	req.ActionID = "no_such_action"
	_, err := f.rt.ExecuteToolAction(context.Background(), req)
	if ErrorCode(err) != CodeActionNotFound {
		t.Errorf("error = %v, want %s", err, CodeActionNotFound)
	}
	if IsRetryable(err) {
		t.Error("unknown action reported retryable")
	}
	if entry := f.sink.last(t); entry.Status != "failed" {
		t.Errorf("failure not logged: %+v", entry)
	}
}

func TestExecuteToolActionApprovalGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.reg.Register(registry.Capability{ID: "github.delete_repo", IntegrationID: "github"},
		registry.ExecutorFunc(func(ctx context.Context, params, execCtx map[string]any, tracer registry.Tracer) (any, error) {
			return map[string]any{"deleted": true}, nil
		}))

	req := fetchRequest()
	req.ActionID = "delete_repo"

	_, err := f.rt.ExecuteToolAction(ctx, req)
	if ErrorCode(err) != CodeApprovalRequired {
		t.Fatalf("error = %v, want %s", err, CodeApprovalRequired)
	}
	if !IsRetryable(err) {
		t.Error("approval gate should be retryable once approval is granted")
	}

	req.Input = map[string]any{"approved": true}
	if _, err := f.rt.ExecuteToolAction(ctx, req); err != nil {
		t.Errorf("approved action rejected: %v", err)
	}
}

func TestExecuteToolActionCredentialUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		creds fakeCredentials
	}{
		{"resolver error", fakeCredentials{err: errors.New("oauth refresh failed")}},
		{"empty token", fakeCredentials{token: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *Config) { cfg.Credentials = tt.creds })

			_, err := f.rt.ExecuteToolAction(context.Background(), fetchRequest())
			if ErrorCode(err) != CodeCredentialUnavailable {
				t.Errorf("error = %v, want %s", err, CodeCredentialUnavailable)
			}
			if !IsRetryable(err) {
				t.Error("credential failure not retryable")
			}
		})
	}
}

func TestExecuteToolActionCapabilityNotFound(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Capabilities = registry.New() })

	_, err := f.rt.ExecuteToolAction(context.Background(), fetchRequest())
	if ErrorCode(err) != CodeCapabilityNotFound {
		t.Errorf("error = %v, want %s", err, CodeCapabilityNotFound)
	}
}

func TestExecuteToolActionRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *Config) { cfg.MaxCallsPerMinute = 1 })

	if _, err := f.rt.ExecuteToolAction(ctx, fetchRequest()); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	_, err := f.rt.ExecuteToolAction(ctx, fetchRequest())
	if ErrorCode(err) != CodeRateLimitExceeded {
		t.Errorf("error = %v, want %s", err, CodeRateLimitExceeded)
	}
}

func TestExecuteToolActionDeadmanFencesLateCompletion(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})

	f := newFixture(t, func(cfg *Config) { cfg.DeadmanTimeout = 20 * time.Millisecond })
	f.reg.Register(registry.Capability{ID: "github.list_commits", IntegrationID: "github"},
		registry.ExecutorFunc(func(ctx context.Context, params, execCtx map[string]any, tracer registry.Tracer) (any, error) {
			<-release
			return []any{map[string]any{"id": "late"}}, nil
		}))

	_, err := f.rt.ExecuteToolAction(ctx, fetchRequest())
	if ErrorCode(err) != CodeExecutionTimeout {
		t.Fatalf("error = %v, want %s", err, CodeExecutionTimeout)
	}
	if !IsRetryable(err) {
		t.Error("deadman timeout not retryable")
	}

	// Let the fenced invocation complete; its result must never commit.
	close(release)
	time.Sleep(50 * time.Millisecond)

	ok, err := f.mem.Get(ctx, memory.ToolScope("tool-1"), "state", "current", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("late completion committed state past the fencing token")
	}
}

func TestExecuteToolActionExecutorErrorWrapped(t *testing.T) {
	f := newFixture(t, nil)
	f.reg.Register(registry.Capability{ID: "github.list_commits", IntegrationID: "github"},
		registry.ExecutorFunc(func(ctx context.Context, params, execCtx map[string]any, tracer registry.Tracer) (any, error) {
			return nil, errors.New("upstream 502")
		}))

	_, err := f.rt.ExecuteToolAction(context.Background(), fetchRequest())
	if ErrorCode(err) != CodeInvocationFailed {
		t.Errorf("error = %v, want %s", err, CodeInvocationFailed)
	}

	// Structured executor errors pass through unchanged.
	f.reg.Register(registry.Capability{ID: "github.list_commits", IntegrationID: "github"},
		registry.ExecutorFunc(func(ctx context.Context, params, execCtx map[string]any, tracer registry.Tracer) (any, error) {
			return nil, newError(CodeRateLimitExceeded, "upstream throttled", true, nil)
		}))
	_, err = f.rt.ExecuteToolAction(context.Background(), fetchRequest())
	if ErrorCode(err) != CodeRateLimitExceeded || !IsRetryable(err) {
		t.Errorf("structured error lost in transit: %v", err)
	}
}

func TestExecuteToolActionReducerPinMiss(t *testing.T) {
	f := newFixture(t, nil)

	req := fetchRequest()
	tool := testTool()
	delete(tool.Reducers, "store_commits")
	req.Tool = tool

	_, err := f.rt.ExecuteToolAction(context.Background(), req)
	if ErrorCode(err) != CodeReducerNotFound {
		t.Errorf("error = %v, want %s", err, CodeReducerNotFound)
	}
	if IsRetryable(err) {
		t.Error("reducer miss must not be retryable")
	}
}

func TestExecuteToolActionKeepsStateHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	for i := 0; i < 6; i++ {
		if _, err := f.rt.ExecuteToolAction(ctx, fetchRequest()); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	var history []map[string]any
	ok, err := f.mem.Get(ctx, memory.ToolScope("tool-1"), "state", "history", &history)
	if err != nil || !ok {
		t.Fatalf("history missing: present=%v err=%v", ok, err)
	}
	if len(history) != stateHistoryLimit {
		t.Errorf("history length = %d, want %d", len(history), stateHistoryLimit)
	}
}

func TestExecuteToolActionSanitizesLogs(t *testing.T) {
	f := newFixture(t, nil)

	req := fetchRequest()
	req.Input = map[string]any{"branch": "main", "api_key": "sk-live-123"}
	if _, err := f.rt.ExecuteToolAction(context.Background(), req); err != nil {
		t.Fatalf("ExecuteToolAction() error = %v", err)
	}

	entry := f.sink.last(t)
	input := entry.Input.(map[string]any)
	if input["api_key"] != MaskedValue {
		t.Errorf("logged api_key = %v, want masked", input["api_key"])
	}
	if input["branch"] != "main" {
		t.Errorf("logged branch = %v", input["branch"])
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	mem := memory.NewStoreWithAdapter(memory.NewMemAdapter())
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no capabilities", Config{Credentials: fakeCredentials{}, Memory: mem}},
		{"no credentials", Config{Capabilities: registry.New(), Memory: mem}},
		{"no memory", Config{Capabilities: registry.New(), Credentials: fakeCredentials{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() accepted an incomplete config")
			}
		})
	}
}
