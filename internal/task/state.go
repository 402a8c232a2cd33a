package task

// State is the lifecycle state of a task or master task.
type State int

const (
	StateQueued = State(iota)
	StateRunning
	StatePausing
	StatePaused
	StateIncomplete
	StateFinished
	StatePartFailed
	StateFailed
	StateCancelling
	StateCancelled
)

// String represents State as string.
func (s State) String() string {
	return map[State]string{
		StateQueued:     "queued",
		StateRunning:    "running",
		StatePausing:    "pausing",
		StatePaused:     "paused",
		StateIncomplete: "incomplete",
		StateFinished:   "finished",
		StatePartFailed: "part-failed",
		StateFailed:     "failed",
		StateCancelling: "cancelling",
		StateCancelled:  "cancelled",
	}[s]
}

// StateFromString converts a state's string form back to a State.
// Unknown strings map to StateIncomplete.
func StateFromString(s string) State {
	for st := StateQueued; st <= StateCancelled; st++ {
		if st.String() == s {
			return st
		}
	}
	return StateIncomplete
}

// Terminal reports whether the state is terminal for a task.
// A terminal task is never executed again within the same run.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Runnable reports whether a task in this state may be enqueued for
// execution.
func (s State) Runnable() bool {
	switch s {
	case StateQueued, StateRunning:
		return true
	default:
		return false
	}
}
