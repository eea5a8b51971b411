package txn

import (
	"context"
	"sync"
)

type task struct {
	name string
	run  func(ctx context.Context) error
}

// taskQueue runs tasks one at a time, in FIFO order, on a worker goroutine
// that exists only while tasks are pending.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []task
	running bool
	closed  bool
	pending int
	idle    chan struct{} // closed while pending == 0
}

func newTaskQueue() *taskQueue {
	idle := make(chan struct{})
	close(idle)
	return &taskQueue{
		tasks: make([]task, 0, 8),
		idle:  idle,
	}
}

// enqueue adds t to the back of the queue. Returns false if the queue is closed.
func (q *taskQueue) enqueue(ctx context.Context, t task, done func(task, error)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	if !q.running {
		q.running = true
		go q.work(ctx, done)
	}
	return true
}

func (q *taskQueue) work(ctx context.Context, done func(task, error)) {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks[0] = task{}
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		done(t, t.run(ctx))
		q.finish(1)
	}
}

func (q *taskQueue) finish(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending -= n
	if q.pending == 0 && n > 0 {
		close(q.idle)
	}
}

// wait blocks until every enqueued task has finished or ctx is done.
func (q *taskQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting tasks. With discard, queued tasks that have not
// started are dropped.
func (q *taskQueue) close(discard bool) {
	q.mu.Lock()
	q.closed = true
	dropped := 0
	if discard {
		dropped = len(q.tasks)
		clear(q.tasks)
		q.tasks = q.tasks[:0]
	}
	q.mu.Unlock()

	q.finish(dropped)
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
