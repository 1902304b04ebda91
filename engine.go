package toolforge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgeworks-ai/toolforge/memory"
	"github.com/forgeworks-ai/toolforge/runtime"
)

// Engine errors.
var (
	ErrWorkflowHasCycles = errors.New("workflow has cycles")
	ErrGraphHasCycles    = errors.New("action graph has cycles")
	ErrUnknownWorkflow   = errors.New("workflow not found")
	ErrUnknownGraph      = errors.New("action graph not found")
)

// Automation pause flag location. Setting it blocks every new run for the
// tool regardless of which trigger fired: a global kill switch.
const (
	AutomationNamespace = "automation"
	AutomationPausedKey = "paused"
)

// RunStore persists execution runs and their append-only steps.
type RunStore interface {
	CreateRun(ctx context.Context, run *ExecutionRun) error
	UpdateRun(ctx context.Context, run *ExecutionRun) error
	AppendStep(ctx context.Context, step *RunStep) error
	UpdateStep(ctx context.Context, step *RunStep) error
	GetRun(ctx context.Context, id string) (*ExecutionRun, error)
	ListSteps(ctx context.Context, runID string) ([]*RunStep, error)
}

// EngineConfig wires an orchestration engine.
type EngineConfig struct {
	Runtime *runtime.Runtime
	Runs    RunStore

	// Events receives engine events. Optional.
	Events EventHandler

	// Now provides the current time (for testing).
	Now func() time.Time

	// Sleep waits for wait nodes and retry backoff. Injectable so tests
	// run without wall-clock delays; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// Engine executes compiled workflows and action graphs. Within one
// invocation nodes run strictly sequentially; concurrency across runs
// comes from the hosting platform.
type Engine struct {
	rt     *runtime.Runtime
	runs   RunStore
	events EventHandler
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewEngine creates an orchestration engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("engine: runtime is required")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("engine: run store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepWithContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		rt:     cfg.Runtime,
		runs:   cfg.Runs,
		events: cfg.Events,
		now:    cfg.Now,
		sleep:  cfg.Sleep,
		logger: cfg.Logger,
	}, nil
}

// PauseAutomation sets the per-tool kill switch.
func (e *Engine) PauseAutomation(ctx context.Context, toolID string) error {
	return e.rt.Memory().SetDurable(ctx, memory.ToolScope(toolID), AutomationNamespace, AutomationPausedKey, true)
}

// ResumeAutomation clears the per-tool kill switch.
func (e *Engine) ResumeAutomation(ctx context.Context, toolID string) error {
	return e.rt.Memory().SetDurable(ctx, memory.ToolScope(toolID), AutomationNamespace, AutomationPausedKey, false)
}

// automationPaused reads the kill switch. A read failure counts as paused:
// running actions against live systems without knowing the flag is worse
// than delaying a run.
func (e *Engine) automationPaused(ctx context.Context, toolID string) bool {
	var paused bool
	_, err := e.rt.Memory().Get(ctx, memory.ToolScope(toolID), AutomationNamespace, AutomationPausedKey, &paused)
	if err != nil {
		e.logger.Warn("automation pause flag unreadable, treating as paused", "tool_id", toolID, "error", err)
		return true
	}
	return paused
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events(ev)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
