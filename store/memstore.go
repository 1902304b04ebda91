// Package store provides durable persistence for execution runs, their
// step records, and action logs: an in-process store for tests and
// unconfigured deployments, and a SQLite store for everything else.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/forgeworks-ai/toolforge"
	"github.com/forgeworks-ai/toolforge/runtime"
)

// ErrRunNotFound is returned when a run id does not resolve.
var ErrRunNotFound = fmt.Errorf("run not found")

// MemStore keeps runs, steps, and action logs in process memory.
type MemStore struct {
	mu    sync.RWMutex
	runs  map[string]*toolforge.ExecutionRun
	steps map[string][]*toolforge.RunStep
	logs  []runtime.LogEntry
}

// NewMemStore creates an empty in-process run store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:  make(map[string]*toolforge.ExecutionRun),
		steps: make(map[string][]*toolforge.RunStep),
	}
}

func (s *MemStore) CreateRun(ctx context.Context, run *toolforge.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("store: run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemStore) UpdateRun(ctx context.Context, run *toolforge.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("store: %w: %s", ErrRunNotFound, run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemStore) AppendStep(ctx context.Context, step *toolforge.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.RunID] = append(s.steps[step.RunID], cloneStep(step))
	return nil
}

func (s *MemStore) UpdateStep(ctx context.Context, step *toolforge.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.steps[step.RunID] {
		if existing.ID == step.ID {
			s.steps[step.RunID][i] = cloneStep(step)
			return nil
		}
	}
	return fmt.Errorf("store: step %s not found in run %s", step.ID, step.RunID)
}

func (s *MemStore) GetRun(ctx context.Context, id string) (*toolforge.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("store: %w: %s", ErrRunNotFound, id)
	}
	return cloneRun(run), nil
}

func (s *MemStore) ListSteps(ctx context.Context, runID string) ([]*toolforge.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := make([]*toolforge.RunStep, 0, len(s.steps[runID]))
	for _, step := range s.steps[runID] {
		steps = append(steps, cloneStep(step))
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})
	return steps, nil
}

// AppendActionLog records one immutable action log entry.
func (s *MemStore) AppendActionLog(ctx context.Context, entry runtime.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// ActionLogs returns a copy of the recorded action log.
func (s *MemStore) ActionLogs() []runtime.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]runtime.LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func cloneRun(run *toolforge.ExecutionRun) *toolforge.ExecutionRun {
	out := *run
	out.Log = append([]toolforge.RunLogEntry(nil), run.Log...)
	out.ReducerIDs = append([]string(nil), run.ReducerIDs...)
	return &out
}

func cloneStep(step *toolforge.RunStep) *toolforge.RunStep {
	out := *step
	return &out
}

var (
	_ toolforge.RunStore = (*MemStore)(nil)
	_ runtime.LogSink    = (*MemStore)(nil)
)
