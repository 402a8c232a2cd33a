package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cliq-dev/cliq/internal/task"
)

// Recorder persists the outcome of a master task run. A nil Recorder on the
// handler disables persistence.
type Recorder interface {
	RecordRun(m *task.Master) error
}

// Handler owns submitted master tasks and runs them strictly one at a time,
// auto-starting the next as soon as the current one reaches a terminal
// state. It is the explicit, injected replacement for a process-wide queue
// singleton: construct one at application start and pass it to whoever
// submits jobs.
type Handler struct {
	mu      sync.Mutex
	log     zerolog.Logger
	rec     Recorder
	pending []*task.Master
	current *Runner
	closed  bool

	// Events fans the current runner's events out to the handler's own
	// observers. Register before submitting jobs.
	Events Events

	sampleInterval time.Duration
	sink           OutputSink
}

// NewHandler creates a handler. rec may be nil.
func NewHandler(rec Recorder) *Handler {
	return &Handler{
		log:            log.With().Str("src", "queue").Logger(),
		rec:            rec,
		sampleInterval: defaultSampleInterval,
	}
}

// SetSink directs process output of every run to sink.
func (h *Handler) SetSink(sink OutputSink) { h.sink = sink }

// SetSampleInterval changes the resource sampling interval for new runs.
func (h *Handler) SetSampleInterval(d time.Duration) { h.sampleInterval = d }

// Add submits a master task. It starts immediately when nothing is running,
// otherwise it waits its turn.
func (h *Handler) Add(m *task.Master) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("queue handler is closed")
	}
	for _, p := range h.pending {
		if p.ID == m.ID {
			return fmt.Errorf("master task already queued: %v", m.ID)
		}
	}
	if h.current != nil && h.current.Master().ID == m.ID {
		return fmt.Errorf("master task already running: %v", m.ID)
	}
	h.pending = append(h.pending, m)
	h.log.Debug().Str("master", m.ID).Int("pending", len(h.pending)).Msg("job queued")
	h.runNextLocked()
	return nil
}

// Remove withdraws a master task that has not started yet. Removing a
// running or unknown task reports an error.
func (h *Handler) Remove(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.Master().ID == id {
		return fmt.Errorf("cannot remove running master task: %v", id)
	}
	for i, p := range h.pending {
		if p.ID == id {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("master task not queued: %v", id)
}

// Current returns the runner driving the active job, or nil when idle.
func (h *Handler) Current() *Runner {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Len returns the number of jobs waiting to start.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Wait blocks until the handler is idle: no running job and nothing
// pending.
func (h *Handler) Wait() {
	for {
		h.mu.Lock()
		cur := h.current
		n := len(h.pending)
		h.mu.Unlock()
		if cur == nil && n == 0 {
			return
		}
		if cur != nil {
			cur.Wait()
		} else {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Close stops accepting jobs and cancels the running one, if any.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.pending = nil
	cur := h.current
	h.mu.Unlock()
	if cur != nil {
		cur.Cancel()
		cur.Wait()
		cur.Close()
	}
}

// runNextLocked pops the next pending job and starts it. Caller holds mu.
func (h *Handler) runNextLocked() {
	if h.current != nil || len(h.pending) == 0 || h.closed {
		return
	}
	m := h.pending[0]
	h.pending = h.pending[1:]

	r := NewRunner(m)
	r.SetSampleInterval(h.sampleInterval)
	if h.sink != nil {
		r.SetSink(h.sink)
	}
	r.Events = h.Events
	h.current = r
	h.log.Debug().Str("master", m.ID).Msg("job starting")
	r.Run()

	go func() {
		r.Wait()
		if h.rec != nil {
			if err := h.rec.RecordRun(m); err != nil {
				h.log.Error().Err(err).Str("master", m.ID).Msg("failed to record run")
			}
		}
		r.Close()
		h.mu.Lock()
		h.current = nil
		h.runNextLocked()
		h.mu.Unlock()
	}()
}
