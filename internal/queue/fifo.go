package queue

// fifo is a first-in first-out queue.
// The value pushed first is popped first.
type fifo[T any] struct {
	first *fifoItem[T]
	last  *fifoItem[T]
	n     int
}

// fifoItem wraps a value and directs the next item, so the queue can
// traverse.
type fifoItem[T any] struct {
	v    T
	next *fifoItem[T]
}

// Push pushes a value to the back of the queue.
func (q *fifo[T]) Push(v T) {
	item := &fifoItem[T]{v: v}
	if q.first == nil {
		q.first = item
	} else {
		q.last.next = item
	}
	q.last = item
	q.n++
}

// Pop pops a value from the front of the queue.
// The second return value is false when the queue is empty.
func (q *fifo[T]) Pop() (T, bool) {
	if q.first == nil {
		var zero T
		return zero, false
	}
	v := q.first.v
	if q.first == q.last {
		q.first = nil
		q.last = nil
	} else {
		q.first = q.first.next
	}
	q.n--
	return v, true
}

// Len returns the number of queued values.
func (q *fifo[T]) Len() int { return q.n }

// Empty reports whether the queue holds no values.
func (q *fifo[T]) Empty() bool { return q.n == 0 }

// Clear removes all queued values.
func (q *fifo[T]) Clear() {
	q.first = nil
	q.last = nil
	q.n = 0
}
