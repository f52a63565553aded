package agent

import "sync"

// Task is a deferred zero-argument action drained by the heartbeat loop. A
// task runs at most once and is never re-enqueued automatically on failure.
type Task func()

// taskQueue is an unbounded FIFO. Enqueue is safe from any goroutine; the
// heartbeat loop is the single consumer.
type taskQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

// Enqueue appends a task. It never blocks and never fails.
func (q *taskQueue) Enqueue(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// TryDequeue removes and returns the oldest task, or reports that the queue
// is empty. It never blocks.
func (q *taskQueue) TryDequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Len reports the number of pending tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
