package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgeworks-ai/toolforge"
	"github.com/forgeworks-ai/toolforge/runtime"
)

// runStores builds each store implementation against one shared test body.
func runStores(t *testing.T, body func(t *testing.T, s toolforge.RunStore)) {
	t.Helper()
	t.Run("mem", func(t *testing.T) {
		body(t, NewMemStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		body(t, s)
	})
}

func sampleRun(id string) *toolforge.ExecutionRun {
	return &toolforge.ExecutionRun{
		ID:         id,
		OrgID:      "org-1",
		ToolID:     "tool-1",
		TargetID:   "sync",
		Status:     toolforge.RunPending,
		Input:      map[string]any{"branch": "main"},
		ReducerIDs: []string{"store_commits"},
		StartedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestRunRoundTrip(t *testing.T) {
	runStores(t, func(t *testing.T, s toolforge.RunStore) {
		ctx := context.Background()
		run := sampleRun("run-1")
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}

		run.Status = toolforge.RunCompleted
		now := time.Now().UTC().Truncate(time.Second)
		run.FinishedAt = &now
		if err := s.UpdateRun(ctx, run); err != nil {
			t.Fatalf("UpdateRun() error = %v", err)
		}

		got, err := s.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("GetRun() error = %v", err)
		}
		if got.Status != toolforge.RunCompleted || got.FinishedAt == nil {
			t.Errorf("round trip lost terminal status: %+v", got)
		}
		if len(got.ReducerIDs) != 1 || got.ReducerIDs[0] != "store_commits" {
			t.Errorf("pinned reducers lost: %v", got.ReducerIDs)
		}
	})
}

func TestUpdateMissingRunFails(t *testing.T) {
	runStores(t, func(t *testing.T, s toolforge.RunStore) {
		err := s.UpdateRun(context.Background(), sampleRun("ghost"))
		if !errors.Is(err, ErrRunNotFound) {
			t.Errorf("UpdateRun() error = %v, want ErrRunNotFound", err)
		}
		if _, err := s.GetRun(context.Background(), "ghost"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
		}
	})
}

func TestStepsListInAppendOrder(t *testing.T) {
	runStores(t, func(t *testing.T, s toolforge.RunStore) {
		ctx := context.Background()
		if err := s.CreateRun(ctx, sampleRun("run-1")); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}

		base := time.Now().UTC().Truncate(time.Second)
		for i, nodeID := range []string{"a", "b", "c"} {
			step := &toolforge.RunStep{
				ID:        toolforge.NewStepID(),
				RunID:     "run-1",
				NodeID:    nodeID,
				Kind:      "action",
				Status:    toolforge.StepRunning,
				StartedAt: base.Add(time.Duration(i) * time.Second),
			}
			if err := s.AppendStep(ctx, step); err != nil {
				t.Fatalf("AppendStep() error = %v", err)
			}
			step.Status = toolforge.StepCompleted
			if err := s.UpdateStep(ctx, step); err != nil {
				t.Fatalf("UpdateStep() error = %v", err)
			}
		}

		steps, err := s.ListSteps(ctx, "run-1")
		if err != nil {
			t.Fatalf("ListSteps() error = %v", err)
		}
		if len(steps) != 3 {
			t.Fatalf("steps = %d, want 3", len(steps))
		}
		for i, nodeID := range []string{"a", "b", "c"} {
			if steps[i].NodeID != nodeID {
				t.Errorf("steps[%d] = %s, want %s", i, steps[i].NodeID, nodeID)
			}
			if steps[i].Status != toolforge.StepCompleted {
				t.Errorf("steps[%d] status = %s", i, steps[i].Status)
			}
		}
	})
}

func TestMemStoreClonesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	run := sampleRun("run-1")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	// Mutating the caller's run after Create must not leak into the store.
	run.Status = toolforge.RunFailed

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != toolforge.RunPending {
		t.Errorf("stored status = %s, caller mutation leaked in", got.Status)
	}

	// Mutating a read result must not change the stored record.
	got.Status = toolforge.RunBlocked
	again, _ := s.GetRun(ctx, "run-1")
	if again.Status != toolforge.RunPending {
		t.Errorf("stored status = %s, read mutation leaked in", again.Status)
	}
}

func TestActionLogAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	entry := runtime.LogEntry{
		Time:     time.Now().UTC(),
		ToolID:   "tool-1",
		ActionID: "fetch_commits",
		Status:   "completed",
	}
	if err := s.AppendActionLog(ctx, entry); err != nil {
		t.Fatalf("AppendActionLog() error = %v", err)
	}

	logs := s.ActionLogs()
	if len(logs) != 1 || logs[0].ActionID != "fetch_commits" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestSQLiteActionLog(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 3; i++ {
		entry := runtime.LogEntry{
			Time:     time.Now().UTC(),
			ToolID:   "tool-1",
			ActionID: "fetch_commits",
			Status:   "completed",
		}
		if err := s.AppendActionLog(ctx, entry); err != nil {
			t.Fatalf("AppendActionLog() error = %v", err)
		}
	}
}

func TestPruneKeepsUnfinishedRuns(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// An old finished run with a step, an old unfinished run, and a fresh one.
	old := sampleRun("old-finished")
	old.StartedAt = time.Now().Add(-72 * time.Hour)
	finished := old.StartedAt.Add(time.Minute)
	old.FinishedAt = &finished
	old.Status = toolforge.RunCompleted
	if err := s.CreateRun(ctx, old); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.AppendStep(ctx, &toolforge.RunStep{
		ID: toolforge.NewStepID(), RunID: "old-finished", NodeID: "a",
		Kind: "action", Status: toolforge.StepCompleted, StartedAt: old.StartedAt,
	}); err != nil {
		t.Fatalf("AppendStep() error = %v", err)
	}

	hung := sampleRun("old-unfinished")
	hung.StartedAt = time.Now().Add(-72 * time.Hour)
	hung.Status = toolforge.RunRunning
	if err := s.CreateRun(ctx, hung); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	fresh := sampleRun("fresh")
	now := time.Now().UTC()
	fresh.FinishedAt = &now
	fresh.Status = toolforge.RunCompleted
	if err := s.CreateRun(ctx, fresh); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	pruned, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	if _, err := s.GetRun(ctx, "old-finished"); !errors.Is(err, ErrRunNotFound) {
		t.Error("old finished run survived pruning")
	}
	if steps, _ := s.ListSteps(ctx, "old-finished"); len(steps) != 0 {
		t.Error("pruned run's steps survived")
	}
	if _, err := s.GetRun(ctx, "old-unfinished"); err != nil {
		t.Error("unfinished run was pruned")
	}
	if _, err := s.GetRun(ctx, "fresh"); err != nil {
		t.Error("fresh run was pruned")
	}
}
