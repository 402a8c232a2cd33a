package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cliq-dev/cliq/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func finishedMaster(id string) *task.Master {
	a := task.NewTask("a", "a", [][]string{{"true"}})
	b := task.NewTask("b", "b", [][]string{{"true"}})
	m := task.NewMaster(id, "job "+id, a, b)
	m.Stats.MarkStart()
	for _, t := range m.Tasks {
		t.Stats.MarkStart()
		t.MarkFinished()
		t.Stats.MarkEnd()
	}
	m.SetState(task.StateFinished)
	m.Stats.MarkEnd()
	return m
}

// TestStorePing tests opening and pinging the database
func TestStorePing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

// TestRecordAndListRuns tests the run history round-trip
func TestRecordAndListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordRun(finishedMaster("m1")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := s.RecordRun(finishedMaster("m2")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := s.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// newest first
	if runs[0].MasterID != "m2" || runs[1].MasterID != "m1" {
		t.Fatalf("unexpected order: %v, %v", runs[0].MasterID, runs[1].MasterID)
	}
	if runs[0].State != "finished" {
		t.Fatalf("run state = %q, want finished", runs[0].State)
	}
	if runs[0].Tasks != 2 {
		t.Fatalf("task count = %d, want 2", runs[0].Tasks)
	}
	if runs[0].StartedAt.IsZero() {
		t.Fatalf("run should carry its start time")
	}
}

// TestRunsLimit tests the history listing limit
func TestRunsLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.RecordRun(finishedMaster("m")); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	runs, err := s.Runs(context.Background(), 3)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
}

// TestTaskStates tests fetching per-task outcomes of the latest run
func TestTaskStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	states, err := s.TaskStates(ctx, "never-ran")
	if err != nil {
		t.Fatalf("TaskStates: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("expected no states for an unknown master, got %v", states)
	}

	// a failed run: first task finished, second failed
	a := task.NewTask("a", "a", [][]string{{"true"}})
	a.MarkFinished()
	b := task.NewTask("b", "b", [][]string{{"false"}})
	b.SetState(task.StateFailed)
	m := task.NewMaster("m1", "m1", a, b)
	m.SetState(task.StateFailed)
	if err := s.RecordRun(m); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	states, err = s.TaskStates(ctx, "m1")
	if err != nil {
		t.Fatalf("TaskStates: %v", err)
	}
	if states["a"] != "finished" || states["b"] != "failed" {
		t.Fatalf("states = %v", states)
	}

	// a later, fully finished run wins
	if err := s.RecordRun(finishedMaster("m1")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	states, err = s.TaskStates(ctx, "m1")
	if err != nil {
		t.Fatalf("TaskStates: %v", err)
	}
	if states["b"] != "finished" {
		t.Fatalf("latest run should win, states = %v", states)
	}
}

// TestRestore tests applying recorded states to a fresh master
func TestRestore(t *testing.T) {
	a := task.NewTask("a", "a", [][]string{{"true"}})
	b := task.NewTask("b", "b", [][]string{{"true"}})
	m := task.NewMaster("m1", "m1", a, b)

	Restore(m, map[string]string{"a": "finished", "b": "failed", "zz": "finished"})

	if a.State() != task.StateFinished || !a.IsLocked() {
		t.Fatalf("finished task should be restored locked, got %v", a.State())
	}
	if b.State() != task.StateQueued {
		t.Fatalf("failed task should stay queued for re-run, got %v", b.State())
	}
	if m.State() != task.StateIncomplete {
		t.Fatalf("partially restored master should be incomplete, got %v", m.State())
	}

	// nothing restored leaves the master untouched
	m2 := task.NewMaster("m2", "m2", task.NewTask("c", "c", [][]string{{"true"}}))
	Restore(m2, map[string]string{})
	if m2.State() != task.StateQueued {
		t.Fatalf("empty restore should leave the master queued, got %v", m2.State())
	}
}
