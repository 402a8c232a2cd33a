package queue

import "github.com/cliq-dev/cliq/internal/task"

// queueTask carries a child task and its position in the master through the
// task queue. It exists only to pass provenance and is discarded once
// consumed.
type queueTask struct {
	index int
	task  *task.Task
}

// queueCommand carries a single argv vector with its provenance through the
// command queue.
type queueCommand struct {
	taskID       string
	taskIndex    int
	commandIndex int
	args         []string
}
