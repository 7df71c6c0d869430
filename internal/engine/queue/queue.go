// Package queue provides a bounded-concurrency task queue with deduplication and bounded retry.
package queue

import (
	"context"
	"runtime"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
)

// State is the lifecycle state of a Queue.
type State uint8

const (
	// StateIdle means no Run call is active. Added tasks are held.
	StateIdle State = iota
	// StateRunning means Run is dispatching pending tasks.
	StateRunning
	// StateDraining means the pending list is empty and Run waits for in-flight tasks.
	StateDraining
	// StateFailed means a task failed without recovery. The queue returns to StateIdle once
	// in-flight tasks settle or Run is called again.
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Func is the body of a task. attempt starts at 1.
type Func[T any] func(ctx context.Context, attempt int) (T, error)

// Options configures a Queue.
type Options struct {
	// MaxConcurrent bounds the number of tasks in flight. Defaults to runtime.NumCPU().
	MaxConcurrent int
	// MaxAttempts bounds how often a task is attempted. Defaults to 1.
	MaxAttempts int
	// RetryIf reports whether a failed attempt may be retried. A nil RetryIf never retries.
	RetryIf func(error) bool
}

// Handle is the pending result of a task. Every caller that adds the same key while the task
// is pending or running shares one Handle.
type Handle[T any] struct {
	key  string
	done chan struct{}
	val  T
	err  error
}

// Key returns the task key.
func (h *Handle[T]) Key() string {
	return h.key
}

// Done is closed when the task settles.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task settles or ctx ends.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

type task[T any] struct {
	key     string
	fn      Func[T]
	attempt int
	handle  *Handle[T]
}

// Queue schedules tasks FIFO with at most MaxConcurrent in flight.
type Queue[T any] struct {
	opts Options

	mu      sync.Mutex
	state   State
	pending []*task[T]
	handles map[string]*Handle[T]
	active  int
	err     error
	wake    chan struct{}
}

// New creates an idle Queue.
func New[T any](opts Options) *Queue[T] {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = runtime.NumCPU()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Queue[T]{
		opts:    opts,
		handles: make(map[string]*Handle[T]),
		wake:    make(chan struct{}, 1),
	}
}

// Add enqueues fn under key and returns its handle.
// If a task with the same key is pending or running, its handle is returned and fn is dropped.
func (q *Queue[T]) Add(key string, fn Func[T]) *Handle[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if h, ok := q.handles[key]; ok {
		return h
	}

	h := &Handle[T]{key: key, done: make(chan struct{})}
	q.handles[key] = h
	q.pending = append(q.pending, &task[T]{key: key, fn: fn, attempt: 1, handle: h})
	q.signal()
	return h
}

// Run dispatches tasks until the queue and every in-flight task have drained, ctx ends, or a
// task fails without recovery. It returns the first such failure.
// Tasks still pending after a failure are kept for the next Run.
func (q *Queue[T]) Run(ctx context.Context) error {
	q.mu.Lock()
	switch q.state {
	case StateRunning, StateDraining:
		q.mu.Unlock()
		return domain.ErrQueueRunning
	case StateFailed:
		q.state = StateIdle
	}
	q.state = StateRunning
	q.err = nil

	for {
		q.dispatch(ctx)

		if q.err != nil {
			err := q.err
			q.fail()
			q.mu.Unlock()
			return err
		}
		if ctx.Err() != nil {
			q.fail()
			q.mu.Unlock()
			return context.Cause(ctx)
		}

		if len(q.pending) == 0 {
			if q.active == 0 {
				q.state = StateIdle
				q.mu.Unlock()
				return nil
			}
			q.state = StateDraining
		} else {
			q.state = StateRunning
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
		}
		q.mu.Lock()
	}
}

// State returns the current lifecycle state.
func (q *Queue[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of pending tasks.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of tasks in flight.
func (q *Queue[T]) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Clear settles every pending task with err and returns how many were dropped.
// In-flight tasks are not affected.
func (q *Queue[T]) Clear(err error) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	for _, t := range q.pending {
		delete(q.handles, t.key)
		t.handle.err = err
		close(t.handle.done)
	}
	q.pending = nil
	q.signal()
	return n
}

// dispatch starts pending tasks while capacity allows. q.mu must be held.
func (q *Queue[T]) dispatch(ctx context.Context) {
	for len(q.pending) > 0 && q.active < q.opts.MaxConcurrent && q.err == nil && ctx.Err() == nil {
		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.active++
		go q.execute(ctx, t)
	}
}

func (q *Queue[T]) execute(ctx context.Context, t *task[T]) {
	val, err := t.fn(ctx, t.attempt)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--

	if err != nil && q.retryable(ctx, t, err) {
		t.attempt++
		q.pending = append([]*task[T]{t}, q.pending...)
		q.settle()
		return
	}

	delete(q.handles, t.key)
	t.handle.val = val
	t.handle.err = err
	close(t.handle.done)

	if err != nil && q.err == nil && (q.state == StateRunning || q.state == StateDraining) {
		q.err = err
	}
	q.settle()
}

func (q *Queue[T]) retryable(ctx context.Context, t *task[T], err error) bool {
	if t.attempt >= q.opts.MaxAttempts || q.opts.RetryIf == nil || ctx.Err() != nil {
		return false
	}
	return q.opts.RetryIf(err)
}

// settle wakes Run and resets a failed queue once nothing is in flight. q.mu must be held.
func (q *Queue[T]) settle() {
	if q.state == StateFailed && q.active == 0 {
		q.state = StateIdle
	}
	q.signal()
}

func (q *Queue[T]) fail() {
	if q.active == 0 {
		q.state = StateIdle
		return
	}
	q.state = StateFailed
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
