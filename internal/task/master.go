package task

import (
	"fmt"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// Master is an aggregate job composed of an ordered list of tasks that are
// executed sequentially. Child tasks are exclusively owned and never shared
// between masters.
type Master struct {
	// ID identifies the master task.
	ID string

	// Name is the display name.
	Name string

	// Tasks holds the children in execution order.
	Tasks []*Task

	// Stats collects timing for the whole job.
	Stats Stats

	state State
}

// NewMaster creates a queued master task owning the given children.
// When id is empty a new one is generated.
func NewMaster(id, name string, tasks ...*Task) *Master {
	if id == "" {
		id = xid.New().String()
	}
	if name == "" {
		name = "Master"
	}
	return &Master{ID: id, Name: name, Tasks: tasks}
}

// State returns the master's aggregate state.
func (m *Master) State() State { return m.state }

// SetState changes the master's state, logging the transition.
func (m *Master) SetState(s State) {
	if m.state == s {
		return
	}
	old := m.state
	m.state = s
	log.Trace().Str("master", m.ID).Stringer("from", old).Stringer("to", s).Msg("master state changed")
}

// TaskForID returns the child with the given id, or nil if absent. A nil
// result is a "nothing to do" signal, not an error. The scan is linear;
// masters are expected to hold tens of tasks at most.
func (m *Master) TaskForID(id string) *Task {
	for _, t := range m.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Requeue is the retry action: the master goes back to queued and every
// child that has not finished is reset so a new run re-executes it.
func (m *Master) Requeue() {
	m.SetState(StateQueued)
	m.Stats.Reset()
	for _, t := range m.Tasks {
		if t.State() != StateFinished {
			t.Reset()
		}
	}
}

// Summary returns a short human readable description of the job.
func (m *Master) Summary() string {
	finished := 0
	for _, t := range m.Tasks {
		if t.State() == StateFinished {
			finished++
		}
	}
	return fmt.Sprintf("%s: %s (%d/%d tasks finished)", m.Name, m.state, finished, len(m.Tasks))
}
