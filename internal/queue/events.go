package queue

import (
	"github.com/rs/zerolog"

	"github.com/cliq-dev/cliq/internal/task"
)

// Callback is invoked with the master task at selected lifecycle points.
type Callback func(*task.Master)

// Events holds observer lists for the runner's lifecycle events. Observers
// are appended before Run and invoked on the runner's event loop. Delivery
// is best effort: a panicking observer is logged and does not prevent
// delivery to the remaining observers.
type Events struct {
	// Started fires once, when the first command's process has launched.
	Started []Callback
	// Next fires every time the stream advances: a command is about to
	// execute, a task is finalized, or an ineligible task is skipped.
	Next []Callback
	// Ended fires once, when the whole job finished successfully.
	Ended []Callback
	// Errored fires when a non-optional task failed; the job halts.
	Errored []Callback
	// PartErrored fires when an optional task failed; the job continues.
	PartErrored []Callback
	// Progress fires on new process output.
	Progress []Callback
	// Paused fires when a requested pause or resume takes effect.
	Paused []func(*task.Master, bool)
	// Cancelled fires once, when cancellation has fully resolved.
	Cancelled []Callback
}

// emit delivers the master to every observer in fns.
func emit(log zerolog.Logger, which string, fns []Callback, m *task.Master) {
	for _, fn := range fns {
		safeCall(log, which, func() { fn(m) })
	}
}

// emitPaused delivers the paused flag to every Paused observer.
func emitPaused(log zerolog.Logger, fns []func(*task.Master, bool), m *task.Master, paused bool) {
	for _, fn := range fns {
		safeCall(log, "paused", func() { fn(m, paused) })
	}
}

// safeCall runs fn, recovering and logging a panic so one failing observer
// cannot break the runner or starve the remaining observers.
func safeCall(log zerolog.Logger, which string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("event", which).Interface("panic", r).Msg("observer panicked")
		}
	}()
	fn()
}
