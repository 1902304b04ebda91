// Package trigger fires a compiled tool's declared triggers: cron-scheduled
// triggers through a background poll loop, and event triggers through
// explicit dispatch. Both paths drive runs through the orchestration
// engine, so the automation kill switch and run tracking apply uniformly.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/forgeworks-ai/toolforge"
	"github.com/forgeworks-ai/toolforge/spec"
)

const defaultPollInterval = 15 * time.Second

// Runner executes trigger-bound targets. The orchestration engine
// satisfies it.
type Runner interface {
	RunWorkflow(ctx context.Context, req toolforge.RunRequest) (*toolforge.RunResult, error)
	RunAction(ctx context.Context, req toolforge.RunRequest) (*toolforge.RunResult, error)
}

// FireStatus records the outcome of the most recent firing.
type FireStatus string

const (
	FireStatusRunning   FireStatus = "running"
	FireStatusCompleted FireStatus = "completed"
	FireStatusFailed    FireStatus = "failed"
	FireStatusSkipped   FireStatus = "skipped_overlap"
)

// entry is one scheduled trigger being tracked by the poll loop.
type entry struct {
	orgID    string
	toolID   string
	tool     *spec.ExecutableTool
	trig     spec.Trigger
	schedule cron.Schedule

	nextRun    time.Time
	lastStatus FireStatus
	lastError  string
	lastRunID  string
}

// SchedulerConfig configures the background trigger scheduler.
type SchedulerConfig struct {
	Runner       Runner
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically fires due scheduled triggers for registered
// tools. An overlap guard skips a firing while the prior one for the same
// trigger is still running.
type Scheduler struct {
	runner       Runner
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	active  map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a trigger scheduler instance.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("trigger scheduler runner is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		runner:       cfg.Runner,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
		entries:      map[string]*entry{},
		active:       map[string]struct{}{},
	}, nil
}

// RegisterTool tracks every scheduled trigger of a compiled tool. The
// compiler already validated the expressions, so a parse failure here
// means the artifact was tampered with and is reported.
func (s *Scheduler) RegisterTool(orgID, toolID string, tool *spec.ExecutableTool) error {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, trig := range tool.Triggers {
		if trig.Schedule == "" {
			continue
		}
		schedule, err := spec.ParseSchedule(trig.Schedule)
		if err != nil {
			return fmt.Errorf("trigger %s: %w", trig.ID, err)
		}
		key := entryKey(orgID, toolID, trig.ID)
		s.entries[key] = &entry{
			orgID:    orgID,
			toolID:   toolID,
			tool:     tool,
			trig:     trig,
			schedule: schedule,
			nextRun:  schedule.Next(now),
		}
	}
	return nil
}

// UnregisterTool drops every tracked trigger of a tool.
func (s *Scheduler) UnregisterTool(orgID, toolID string) {
	prefix := entryKey(orgID, toolID, "")
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.entries, key)
		}
	}
}

// Start starts background polling. The loop lives until Stop; the passed
// context only covers the start itself.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()

	return nil
}

// Stop stops background polling and waits for the loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass, firing every due trigger.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*entry
	for key, e := range s.entries {
		if e.nextRun.After(now) {
			continue
		}
		e.nextRun = e.schedule.Next(now)
		if _, running := s.active[key]; running {
			e.lastStatus = FireStatusSkipped
			e.lastError = "skipped because prior scheduled run is still active"
			continue
		}
		s.active[key] = struct{}{}
		e.lastStatus = FireStatusRunning
		e.lastError = ""
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		go s.fire(ctx, e)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	key := entryKey(e.orgID, e.toolID, e.trig.ID)
	defer func() {
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
	}()

	result, err := s.Fire(ctx, e.orgID, e.toolID, e.tool, e.trig, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		e.lastStatus = FireStatusFailed
		e.lastError = err.Error()
		s.logger.Error("scheduled trigger failed",
			"tool_id", e.toolID, "trigger_id", e.trig.ID, "error", err)
		return
	}
	e.lastStatus = FireStatusCompleted
	e.lastError = ""
	if result != nil && result.Run != nil {
		e.lastRunID = result.Run.ID
	}
}

// Fire executes one trigger's bound target through the runner. Action
// triggers run through the engine's single-action path so they share its
// run tracking and pause check.
func (s *Scheduler) Fire(ctx context.Context, orgID, toolID string, tool *spec.ExecutableTool, trig spec.Trigger, input map[string]any) (*toolforge.RunResult, error) {
	req := toolforge.RunRequest{
		OrgID:     orgID,
		ToolID:    toolID,
		TriggerID: trig.ID,
		Tool:      tool,
		Input:     input,
	}

	switch {
	case trig.WorkflowID != "":
		req.TargetID = trig.WorkflowID
		return s.runner.RunWorkflow(ctx, req)
	case trig.ActionID != "":
		req.TargetID = trig.ActionID
		return s.runner.RunAction(ctx, req)
	}
	return nil, fmt.Errorf("trigger %s binds neither workflow nor action", trig.ID)
}

// DispatchEvent fires every trigger matched by an emitted event name.
func (s *Scheduler) DispatchEvent(ctx context.Context, orgID, toolID string, tool *spec.ExecutableTool, eventName string, payload map[string]any) []*toolforge.RunResult {
	var results []*toolforge.RunResult
	for _, trig := range tool.Triggers {
		if trig.Event == "" || trig.Event != eventName {
			continue
		}
		result, err := s.Fire(ctx, orgID, toolID, tool, trig, payload)
		if err != nil {
			s.logger.Error("event trigger failed",
				"tool_id", toolID, "trigger_id", trig.ID, "event", eventName, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results
}

// Status reports the tracked state of one scheduled trigger.
func (s *Scheduler) Status(orgID, toolID, triggerID string) (FireStatus, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryKey(orgID, toolID, triggerID)]
	if !ok {
		return "", "", false
	}
	return e.lastStatus, e.lastError, true
}

func entryKey(orgID, toolID, triggerID string) string {
	return orgID + "/" + toolID + "/" + triggerID
}
