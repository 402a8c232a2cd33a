package task

import (
	"testing"
	"time"
)

// TestStateStrings tests the state round-trip through strings
func TestStateStrings(t *testing.T) {
	for s := StateQueued; s <= StateCancelled; s++ {
		str := s.String()
		if str == "" {
			t.Fatalf("state %d has no string", int(s))
		}
		if got := StateFromString(str); got != s {
			t.Fatalf("round-trip of %q: got %v, want %v", str, got, s)
		}
	}
	if got := StatePartFailed.String(); got != "part-failed" {
		t.Fatalf("part-failed string: got %q", got)
	}
	if got := StateFromString("no-such-state"); got != StateIncomplete {
		t.Fatalf("unknown string should map to incomplete, got %v", got)
	}
}

// TestStateClasses tests the Terminal and Runnable predicates
func TestStateClasses(t *testing.T) {
	terminal := map[State]bool{StateFinished: true, StateFailed: true, StateCancelled: true}
	runnable := map[State]bool{StateQueued: true, StateRunning: true}
	for s := StateQueued; s <= StateCancelled; s++ {
		if s.Terminal() != terminal[s] {
			t.Errorf("%v.Terminal() = %v", s, s.Terminal())
		}
		if s.Runnable() != runnable[s] {
			t.Errorf("%v.Runnable() = %v", s, s.Runnable())
		}
	}
}

// TestNewTask tests task construction defaults
func TestNewTask(t *testing.T) {
	tk := NewTask("", "", [][]string{{"echo", "hi"}})
	if tk.ID == "" {
		t.Fatalf("expected a generated id")
	}
	if tk.Name != "Task" {
		t.Fatalf("expected default name, got %q", tk.Name)
	}
	if tk.State() != StateQueued {
		t.Fatalf("new task should be queued, got %v", tk.State())
	}
	if tk.IsActive() || tk.IsLocked() || tk.Hidden() {
		t.Fatalf("new task should carry no flags")
	}
}

// TestTaskUserActions tests MarkFinished, MarkHidden and Reset
func TestTaskUserActions(t *testing.T) {
	tk := NewTask("t1", "t1", [][]string{{"echo"}})
	tk.MarkFinished()
	if tk.State() != StateFinished || !tk.IsLocked() {
		t.Fatalf("MarkFinished should finish and lock, got %v locked=%v", tk.State(), tk.IsLocked())
	}

	tk = NewTask("t2", "t2", [][]string{{"echo"}})
	tk.MarkHidden()
	if tk.State() != StateFinished || !tk.Hidden() {
		t.Fatalf("MarkHidden should finish and hide")
	}

	tk = NewTask("t3", "t3", [][]string{{"echo"}, {"echo"}})
	tk.SetState(StateFailed)
	tk.SetCommandIndex(1)
	tk.Activate()
	tk.Lock()
	tk.Stats.MarkStart()
	tk.Reset()
	if tk.State() != StateQueued {
		t.Fatalf("Reset should requeue, got %v", tk.State())
	}
	if tk.CommandIndex() != 0 || tk.IsActive() || tk.IsLocked() {
		t.Fatalf("Reset should clear progress and flags")
	}
	if !tk.Stats.StartTime.IsZero() {
		t.Fatalf("Reset should discard timing")
	}
}

// TestMasterRequeue tests that Requeue resets unfinished children only
func TestMasterRequeue(t *testing.T) {
	a := NewTask("a", "a", [][]string{{"echo"}})
	b := NewTask("b", "b", [][]string{{"echo"}})
	c := NewTask("c", "c", [][]string{{"echo"}})
	a.MarkFinished()
	b.SetState(StateFailed)
	c.SetState(StateCancelled)
	m := NewMaster("m", "m", a, b, c)
	m.SetState(StateFailed)

	m.Requeue()
	if m.State() != StateQueued {
		t.Fatalf("requeued master should be queued, got %v", m.State())
	}
	if a.State() != StateFinished {
		t.Fatalf("finished child must survive a requeue, got %v", a.State())
	}
	if b.State() != StateQueued || c.State() != StateQueued {
		t.Fatalf("unfinished children should be requeued, got %v and %v", b.State(), c.State())
	}
}

// TestMasterTaskForID tests child lookup
func TestMasterTaskForID(t *testing.T) {
	a := NewTask("a", "a", [][]string{{"echo"}})
	m := NewMaster("m", "m", a)
	if got := m.TaskForID("a"); got != a {
		t.Fatalf("lookup of existing child failed")
	}
	if got := m.TaskForID("zz"); got != nil {
		t.Fatalf("lookup of missing child should be nil, got %v", got)
	}
}

// TestStatsMarks tests the idempotent start/end stamps
func TestStatsMarks(t *testing.T) {
	var s Stats
	if s.Duration() != 0 {
		t.Fatalf("unstarted stats should have zero duration")
	}
	s.MarkStart()
	first := s.StartTime
	s.MarkStart()
	if s.StartTime != first {
		t.Fatalf("MarkStart must not move the start time")
	}
	s.MarkEnd()
	end := s.EndTime
	s.MarkEnd()
	if s.EndTime != end {
		t.Fatalf("MarkEnd must not move the end time")
	}

	var unstarted Stats
	unstarted.MarkEnd()
	if !unstarted.EndTime.IsZero() {
		t.Fatalf("MarkEnd before MarkStart should be a no-op")
	}
}

// TestStatsPeaks tests the peak sample accessors
func TestStatsPeaks(t *testing.T) {
	var s Stats
	now := time.Now()
	s.Append(Snapshot{At: now, CPU: 10, RSS: 100})
	s.Append(Snapshot{At: now, CPU: 55.5, RSS: 4096})
	s.Append(Snapshot{At: now, CPU: 20, RSS: 2048})
	if got := s.PeakCPU(); got != 55.5 {
		t.Fatalf("peak cpu: got %v", got)
	}
	if got := s.PeakRSS(); got != 4096 {
		t.Fatalf("peak rss: got %v", got)
	}
}

// TestFormatInterval tests the duration formatting
func TestFormatInterval(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{42 * time.Second, "00:42"},
		{3 * time.Minute, "03:00"},
		{61 * time.Minute, "1:01:00"},
		{2*time.Hour + 5*time.Second, "2:00:05"},
	}
	for _, c := range cases {
		if got := FormatInterval(c.d); got != c.want {
			t.Errorf("FormatInterval(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
