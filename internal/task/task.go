package task

import (
	"fmt"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// Task is a unit of work: an ordered list of argv command vectors that are
// executed strictly in order by a single external process.
//
// State is mutated through SetState by the runner, or through the explicit
// user actions (MarkFinished, Lock, MarkHidden, Reset). Nothing else should
// write it.
type Task struct {
	// ID identifies the task. It is stable for the task's lifetime.
	ID string

	// Name is the display name.
	Name string

	// Commands holds one argv vector per command: program plus arguments.
	Commands [][]string

	// Optional marks a task whose failure does not fail the enclosing
	// master task; execution continues with the next task instead.
	Optional bool

	// Stats collects timing and resource samples for the current run.
	Stats Stats

	state        State
	commandIndex int
	active       bool
	locked       bool
	hidden       bool
}

// NewTask creates a queued task. When id is empty a new one is generated.
func NewTask(id, name string, commands [][]string) *Task {
	if id == "" {
		id = xid.New().String()
	}
	if name == "" {
		name = "Task"
	}
	return &Task{ID: id, Name: name, Commands: commands}
}

// State returns the task's current state.
func (t *Task) State() State { return t.state }

// SetState changes the task's state, logging the transition.
func (t *Task) SetState(s State) {
	if t.state == s {
		return
	}
	old := t.state
	t.state = s
	log.Trace().Str("task", t.ID).Stringer("from", old).Stringer("to", s).Msg("task state changed")
}

// CommandArgs returns the ordered argv vectors the task must execute.
func (t *Task) CommandArgs() [][]string { return t.Commands }

// CommandIndex returns the index of the command currently (or last)
// executed.
func (t *Task) CommandIndex() int { return t.commandIndex }

// SetCommandIndex records which command is being executed.
func (t *Task) SetCommandIndex(i int) { t.commandIndex = i }

// IsActive reports whether the task has been activated by the runner.
func (t *Task) IsActive() bool { return t.active }

// Activate marks the task active.
func (t *Task) Activate() { t.active = true }

// IsLocked reports whether the task is locked. A locked task is skipped on
// subsequent runs of the same master task, which is how interrupted jobs
// resume without re-running completed work.
func (t *Task) IsLocked() bool { return t.locked }

// Lock locks the task.
func (t *Task) Lock() { t.locked = true }

// MarkFinished is the user action that forces the task finished and locked.
func (t *Task) MarkFinished() {
	t.SetState(StateFinished)
	t.locked = true
}

// Hidden reports whether the task was hidden by the user.
func (t *Task) Hidden() bool { return t.hidden }

// MarkHidden is the user action that finishes the task and hides it from
// view.
func (t *Task) MarkHidden() {
	t.SetState(StateFinished)
	t.hidden = true
}

// Reset returns the task to the queued state so it can be retried. Timing
// and samples of the previous run are discarded.
func (t *Task) Reset() {
	t.SetState(StateQueued)
	t.commandIndex = 0
	t.active = false
	t.locked = false
	t.Stats.Reset()
}

// Summary returns a short human readable description of the task.
func (t *Task) Summary() string {
	return fmt.Sprintf("%s: %s", t.Name, t.state)
}
