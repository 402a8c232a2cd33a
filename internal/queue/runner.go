package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cliq-dev/cliq/internal/task"
)

// killGracePeriod is how long a cancelled process may keep running after a
// graceful terminate before it is forcefully killed.
const killGracePeriod = 3 * time.Second

// Runner drives one master task: it linearizes "many tasks, each with many
// commands" into a single sequential stream and pushes that stream through
// one external process, one command at a time.
//
// All state lives on a single event-loop goroutine. Public methods and the
// process/sampler goroutines marshal onto it, so no field below needs a
// lock. Task and master objects may be read by a UI while the runner runs,
// but only the loop writes them.
type Runner struct {
	// Events holds the observer lists. Register observers before Run.
	Events Events

	log    zerolog.Logger
	master *task.Master
	proc   *process

	taskQueue     fifo[queueTask]
	commandQueue  fifo[queueCommand]
	finishedTasks map[string]struct{}
	currentTaskID string

	funcStart []Callback
	funcError []Callback
	funcEnd   []Callback
	funcPost  []Callback

	sink           OutputSink
	sinkErr        error
	sampleInterval time.Duration
	samplerCancel  context.CancelFunc

	paused             bool
	cancelled          bool
	masterStarted      bool
	masterFinished     bool
	taskQueuePopulated bool
	startEmitted       bool
	cancelEmitted      bool

	killTimer *time.Timer

	calls    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// NewRunner creates a runner for the given master task and starts its event
// loop. The runner does nothing until Run is called.
func NewRunner(master *task.Master) *Runner {
	r := &Runner{
		log:            log.With().Str("master", master.ID).Logger(),
		master:         master,
		proc:           &process{},
		finishedTasks:  make(map[string]struct{}),
		sampleInterval: defaultSampleInterval,
		calls:          make(chan func(), 128),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	r.proc.onOutput = func(line string) {
		r.post(func() { r.onOutput(line) })
	}
	r.proc.exited = func(code int, err error) {
		r.post(func() { r.onExited(code, err) })
	}
	go r.loop()
	return r
}

// Master returns the master task this runner drives.
func (r *Runner) Master() *task.Master { return r.master }

// OnStart registers a callback invoked when the job's first process starts.
func (r *Runner) OnStart(cb Callback) { r.funcStart = append(r.funcStart, cb) }

// OnError registers a callback invoked when the job fails.
func (r *Runner) OnError(cb Callback) { r.funcError = append(r.funcError, cb) }

// OnEnd registers a callback invoked when the job finishes successfully.
func (r *Runner) OnEnd(cb Callback) { r.funcEnd = append(r.funcEnd, cb) }

// OnPost registers a callback invoked after the end callbacks.
func (r *Runner) OnPost(cb Callback) { r.funcPost = append(r.funcPost, cb) }

// SetSink directs cleaned process output to sink. Set before Run.
func (r *Runner) SetSink(sink OutputSink) { r.sink = sink }

// SetSampleInterval changes how often resource snapshots are taken.
// A non-positive interval disables sampling. Set before Run.
func (r *Runner) SetSampleInterval(d time.Duration) { r.sampleInterval = d }

// OutputErr returns the first error encountered while saving output, if
// any. Only meaningful once the runner is done.
func (r *Runner) OutputErr() error { return r.sinkErr }

// Run starts executing the master task. Calling Run on a job that already
// started is a no-op.
func (r *Runner) Run() { r.post(r.run) }

// Pause requests a cooperative pause (or resume). A command already running
// is allowed to finish; the pause takes effect before the next command
// would launch.
func (r *Runner) Pause(paused bool) { r.post(func() { r.pause(paused) }) }

// Cancel requests cancellation. A running command is asked to terminate
// gracefully and killed after a grace period; pending tasks are dropped
// from the queue as cancelled. The Cancelled event fires only once the
// process has actually exited.
func (r *Runner) Cancel() { r.post(r.cancel) }

// Done returns a channel closed once the job has ended, errored, or been
// cancelled.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Wait blocks until the job has ended, errored, or been cancelled.
func (r *Runner) Wait() { <-r.done }

// Close stops the event loop. The runner must not be used afterwards.
func (r *Runner) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Runner) loop() {
	for {
		select {
		case fn := <-r.calls:
			fn()
		case <-r.stop:
			return
		}
	}
}

// post marshals fn onto the event loop.
func (r *Runner) post(fn func()) {
	select {
	case r.calls <- fn:
	case <-r.stop:
	}
}

// setMasterStarted keeps the started/finished pair consistent: the job is
// finished exactly when it is no longer started.
func (r *Runner) setMasterStarted(v bool) {
	r.masterStarted = v
	r.masterFinished = !v
}

func (r *Runner) run() {
	if r.masterStarted {
		r.log.Debug().Msg("job has already started")
		return
	}
	r.setMasterStarted(true)
	r.master.Stats.MarkStart()
	r.populateTaskQueue()
	r.start()
}

// populateTaskQueue enqueues the master's runnable children, in order.
// Children already finished or cancelled are skipped with one next event
// each, so consumers can advance past them; they are never enqueued. The
// populated guard makes a repeated call within one run a no-op; Requeue
// resets it.
func (r *Runner) populateTaskQueue() {
	if r.taskQueuePopulated {
		return
	}
	r.taskQueuePopulated = true
	for i, t := range r.master.Tasks {
		st := t.State()
		switch {
		case st == task.StateFinished || st == task.StateCancelled:
			r.log.Trace().Str("task", t.ID).Stringer("state", st).Msg("task locked or already done, moving on")
			r.emitNext()
		case st.Runnable():
			r.taskQueue.Push(queueTask{index: i, task: t})
		default:
			r.log.Trace().Str("task", t.ID).Stringer("state", st).Msg("task not runnable, not enqueued")
		}
	}
	r.log.Trace().Int("tasks", r.taskQueue.Len()).Msg("task queue populated")
}

// populateCommandQueue pulls tasks from the task queue until it finds one
// with commands left to run, expands those commands into the command queue
// and returns the task's id. It returns "" once no tasks remain, which is
// the signal that the whole job is done.
func (r *Runner) populateCommandQueue() string {
	for {
		qt, ok := r.taskQueue.Pop()
		if !ok {
			return ""
		}
		t := qt.task
		st := t.State()
		if st == task.StateFinished || st == task.StateCancelled {
			r.log.Trace().Str("task", t.ID).Msg("task finished before activation, moving on")
			r.emitNext()
			continue
		}
		if !st.Runnable() {
			r.log.Trace().Str("task", t.ID).Stringer("state", st).Msg("task not runnable, moving on")
			continue
		}
		args := t.CommandArgs()
		n := 0
		for ci := t.CommandIndex(); ci < len(args); ci++ {
			r.commandQueue.Push(queueCommand{
				taskID:       t.ID,
				taskIndex:    qt.index,
				commandIndex: ci,
				args:         args[ci],
			})
			n++
		}
		if n == 0 {
			// all commands have previously run; nothing to do
			t.SetState(task.StateFinished)
			r.log.Trace().Str("task", t.ID).Msg("task has no commands left, marked finished")
			r.emitNext()
			continue
		}
		r.log.Trace().Str("task", t.ID).Int("commands", n).Msg("command queue populated")
		return t.ID
	}
}

// onNextTask advances the stream: execute the next queued command, refill
// the command queue from the next task, or finish the job when nothing
// remains. This is the sole re-entry point driving forward progress.
func (r *Runner) onNextTask() {
	if !r.commandQueue.Empty() {
		r.onExecuteTask()
		return
	}
	prev := r.currentTaskID
	id := r.populateCommandQueue()
	if id == "" {
		r.log.Trace().Msg("no more tasks to execute, finishing up")
		r.finalizeTask(prev)
		r.setMasterStarted(false)
		r.master.SetState(task.StateFinished)
		r.master.Stats.MarkEnd()
		r.emitNext()
		r.emitEnded()
		return
	}
	if prev != "" && prev != id {
		// lock the task we moved past and stop its clock
		if t := r.master.TaskForID(prev); t != nil {
			t.Stats.MarkEnd()
			t.Lock()
		}
	}
	r.currentTaskID = id
	r.onExecuteTask()
}

// onExecuteTask pops one command and launches it.
func (r *Runner) onExecuteTask() {
	cmd, ok := r.commandQueue.Pop()
	if !ok {
		r.log.Trace().Msg("command queue was empty, will try the next task")
		return
	}
	t := r.master.TaskForID(cmd.taskID)
	if t == nil {
		// the queue referenced a task the master no longer owns; a bug
		// in queue population, not a runtime failure
		panic(fmt.Sprintf("command queue references unknown task %q", cmd.taskID))
	}
	if cmd.commandIndex == 0 {
		t.Stats.MarkStart()
	}
	if !t.IsActive() {
		t.Activate()
	}
	if t.State() != task.StateRunning {
		t.SetState(task.StateRunning)
	}
	r.currentTaskID = t.ID
	r.proc.setCommand(cmd.args)
	t.SetCommandIndex(cmd.commandIndex)
	r.log.Trace().Str("task", t.ID).Int("command", cmd.commandIndex).
		Str("argv", strings.Join(cmd.args, " ")).Msg("executing")
	r.start()
	if !r.masterStarted {
		// launching errored out and the job has halted
		return
	}
	r.emitNext()
}

// start launches the configured command, unless a pause or cancellation has
// been requested, in which case it honors that instead. Pausing is
// cooperative: this is the only point where a requested pause takes effect.
func (r *Runner) start() {
	if !r.masterStarted {
		r.log.Debug().Msg("job has not been started, nothing to do")
		return
	}
	if r.proc.Program() == "" {
		r.log.Debug().Msg("no command configured, setting up the next task")
		r.onNextTask()
		if !r.masterStarted || r.proc.Program() == "" {
			return
		}
	}
	if r.proc.Running() {
		return
	}
	switch {
	case r.paused:
		if r.master.State() != task.StatePaused {
			if t := r.master.TaskForID(r.currentTaskID); t != nil {
				t.SetState(task.StatePaused)
			}
			r.master.SetState(task.StatePaused)
			emitPaused(r.log, r.Events.Paused, r.master, true)
			r.log.Trace().Msg("job paused")
		}
	case r.cancelled:
		if t := r.master.TaskForID(r.currentTaskID); t != nil && !t.State().Terminal() {
			t.SetState(task.StateCancelled)
		}
		r.master.SetState(task.StateCancelled)
		r.emitCancelled()
	default:
		if err := r.proc.start(); err != nil {
			r.onError(fmt.Errorf("start process: %w", err))
			return
		}
		r.onStarted()
	}
}

func (r *Runner) onStarted() {
	r.master.SetState(task.StateRunning)
	if t := r.master.TaskForID(r.currentTaskID); t != nil && t.State() != task.StateRunning {
		t.SetState(task.StateRunning)
	}
	r.setMasterStarted(true)
	if !r.startEmitted {
		r.startEmitted = true
		for _, cb := range r.funcStart {
			cb := cb
			safeCall(r.log, "start callback", func() { cb(r.master) })
		}
		emit(r.log, "started", r.Events.Started, r.master)
	}
	r.startSampler()
	r.log.Trace().Int("pid", r.proc.pid).Msg("process started")
}

// onExited is the single entry point for process completion, marshaled
// from the wait goroutine.
func (r *Runner) onExited(code int, err error) {
	r.stopSampler()
	if r.killTimer != nil {
		r.killTimer.Stop()
		r.killTimer = nil
	}
	r.proc.markStopped()
	if err != nil {
		r.onError(err)
		return
	}
	r.onFinished(code)
}

func (r *Runner) onFinished(code int) {
	if r.cancelled {
		// cancellation resolves now that the process has exited
		if t := r.master.TaskForID(r.currentTaskID); t != nil && !t.State().Terminal() {
			t.SetState(task.StateCancelled)
		}
		r.master.SetState(task.StateCancelled)
		r.emitCancelled()
		return
	}
	if code != 0 {
		r.log.Error().Int("exit_code", code).Msg("command exited with non-zero exit code")
		r.onError(fmt.Errorf("exit code %d", code))
		return
	}
	t := r.master.TaskForID(r.currentTaskID)
	if t != nil && r.masterStarted {
		if r.commandQueue.Empty() {
			r.finalizeTask(t.ID)
			r.emitNext()
		}
		r.log.Trace().Str("task", t.ID).Msg("command finished")
		r.onNextTask()
	}
	if r.masterFinished && t != nil {
		r.finalizeTask(t.ID)
	}
}

func (r *Runner) onError(err error) {
	r.log.Error().Err(err).Msg("process errored")
	r.proc.clearProgram()
	r.master.SetState(task.StateFailed)
	t := r.master.TaskForID(r.currentTaskID)
	if t != nil && t.State() != task.StateFinished {
		t.SetState(task.StateFailed)
		t.Stats.MarkEnd()
		t.Lock()
		if t.Optional && !r.cancelled {
			// an optional task's failure must not fail the whole job:
			// drop its remaining commands and continue with the next task
			t.SetState(task.StatePartFailed)
			r.commandQueue.Clear()
			r.master.SetState(task.StateRunning)
			r.log.Warn().Str("task", t.ID).Msg("optional task failed, continuing")
			emit(r.log, "part-errored", r.Events.PartErrored, r.master)
			r.onNextTask()
			return
		}
	}
	r.setMasterStarted(false)
	r.master.Stats.MarkEnd()
	if r.cancelled {
		if t != nil && t.State() != task.StateFinished {
			t.SetState(task.StateCancelled)
		}
		r.master.SetState(task.StateCancelled)
		r.emitCancelled()
		return
	}
	emit(r.log, "errored", r.Events.Errored, r.master)
	for _, cb := range r.funcError {
		cb := cb
		safeCall(r.log, "error callback", func() { cb(r.master) })
	}
	r.closeDone()
}

func (r *Runner) pause(paused bool) {
	r.paused = paused
	t := r.master.TaskForID(r.currentTaskID)
	if paused {
		r.master.SetState(task.StatePausing)
		if t != nil && t.State() == task.StateRunning {
			t.SetState(task.StatePausing)
		}
		r.log.Debug().Str("master", r.master.ID).Msg("pausing job")
	} else {
		r.master.SetState(task.StateRunning)
		if t != nil && (t.State() == task.StatePaused || t.State() == task.StatePausing) {
			t.SetState(task.StateRunning)
		}
		emitPaused(r.log, r.Events.Paused, r.master, false)
		r.log.Debug().Str("master", r.master.ID).Msg("resuming job")
	}
	r.start()
}

func (r *Runner) cancel() {
	r.cancelled = true
	running := r.proc.Running()
	t := r.master.TaskForID(r.currentTaskID)
	if running {
		r.master.SetState(task.StateCancelling)
		if t != nil && t.State() == task.StateRunning {
			t.SetState(task.StateCancelling)
		}
	} else {
		r.master.SetState(task.StateCancelled)
		if t != nil && !t.State().Terminal() {
			t.SetState(task.StateCancelled)
		}
	}
	r.commandQueue.Clear()
	for {
		qt, ok := r.taskQueue.Pop()
		if !ok {
			break
		}
		// tasks that never ran are dropped as cancelled
		qt.task.SetState(task.StateCancelled)
	}
	if running {
		// graceful first; hard kill if it does not exit within the grace
		// period
		r.killTimer = time.AfterFunc(killGracePeriod, func() {
			r.post(func() { r.proc.kill() })
		})
		r.proc.terminate()
	} else {
		r.emitCancelled()
	}
	r.setMasterStarted(false)
	r.log.Debug().Msg("cancelling job")
}

// finalizeTask marks a task finished and locked once its commands are
// exhausted. Safe to call repeatedly.
func (r *Runner) finalizeTask(id string) {
	if id == "" {
		return
	}
	t := r.master.TaskForID(id)
	if t == nil {
		return
	}
	if st := t.State(); st == task.StateRunning || st == task.StatePausing {
		t.SetState(task.StateFinished)
	}
	t.Stats.MarkEnd()
	t.Lock()
	r.finishedTasks[t.ID] = struct{}{}
}

func (r *Runner) onOutput(line string) {
	line = cleanLine(line)
	if r.sink != nil && r.sinkErr == nil {
		if err := r.sink.WriteLine(line); err != nil {
			r.sinkErr = err
			if err == ErrNotEnoughSpace {
				r.log.Error().Msg("not enough disk space to save output")
			} else {
				r.log.Error().Err(err).Msg("failed to save output")
			}
		}
	}
	emit(r.log, "progress", r.Events.Progress, r.master)
}

func (r *Runner) startSampler() {
	if r.sampleInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.samplerCancel = cancel
	pid := r.proc.pid
	id := r.currentTaskID
	go runSampler(ctx, pid, r.sampleInterval, func(sn task.Snapshot) {
		r.post(func() {
			if t := r.master.TaskForID(id); t != nil && t.State() == task.StateRunning {
				t.Stats.Append(sn)
			}
		})
	})
}

func (r *Runner) stopSampler() {
	if r.samplerCancel != nil {
		r.samplerCancel()
		r.samplerCancel = nil
	}
}

func (r *Runner) emitNext() {
	emit(r.log, "next", r.Events.Next, r.master)
}

func (r *Runner) emitEnded() {
	emit(r.log, "ended", r.Events.Ended, r.master)
	for _, cb := range r.funcEnd {
		cb := cb
		safeCall(r.log, "end callback", func() { cb(r.master) })
	}
	for _, cb := range r.funcPost {
		cb := cb
		safeCall(r.log, "post callback", func() { cb(r.master) })
	}
	r.log.Debug().Msg("all tasks finished")
	r.closeDone()
}

func (r *Runner) emitCancelled() {
	if r.cancelEmitted {
		return
	}
	r.cancelEmitted = true
	r.master.Stats.MarkEnd()
	emit(r.log, "cancelled", r.Events.Cancelled, r.master)
	r.closeDone()
}

func (r *Runner) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}
