// Package workerpool runs worker tasks on a bounded set of out-of-process workers.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/queue"
	"go.trai.ch/zerr"
	"golang.org/x/time/rate"
)

const (
	// maxAttempts allows one redispatch after a worker crash.
	maxAttempts = 2

	defaultCancelGrace  = 5 * time.Second
	defaultRespawnEvery = 200 * time.Millisecond
)

// Listener receives the intermediate events of a task.
type Listener func(msg domain.Message)

// Options configures a Pool.
type Options struct {
	// Size is the number of worker processes. Defaults to runtime.NumCPU().
	Size    int
	Spawner ports.WorkerSpawner
	Logger  ports.Logger
	Metrics ports.Metrics
	// OnEvent receives the intermediate events of every task.
	OnEvent func(task domain.WorkerTask, msg domain.Message)
	// CancelGrace bounds how long a cancelled task may take to finish before its worker is killed.
	CancelGrace time.Duration
	// RespawnEvery throttles worker spawns beyond the initial Size.
	RespawnEvery time.Duration
}

type worker struct {
	conn ports.WorkerConn
}

// inflight tracks the callers waiting on one queued task.
type inflight struct {
	waiters   int
	listeners map[int]Listener
	cancel    context.CancelCauseFunc
	abandoned bool
}

// errAbandoned cancels a task whose every waiter has given up.
var errAbandoned = errors.New("task abandoned by all waiters")

// Pool executes domain.WorkerTask values on worker processes.
type Pool struct {
	opts    Options
	queue   *queue.Queue[[]byte]
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelCauseFunc

	idle  chan *worker
	slots chan struct{}

	mu       sync.Mutex
	closed   bool
	live     map[*worker]struct{}
	tasks    map[string]*inflight
	nextWait int

	epoch  atomic.Uint64
	taskID atomic.Uint64
	runner sync.WaitGroup
}

// New creates a pool. Workers are spawned on demand.
func New(opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = runtime.NumCPU()
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	if opts.RespawnEvery <= 0 {
		opts.RespawnEvery = defaultRespawnEvery
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &Pool{
		opts: opts,
		queue: queue.New[[]byte](queue.Options{
			MaxConcurrent: opts.Size,
			MaxAttempts:   maxAttempts,
			RetryIf:       isCrash,
		}),
		limiter: rate.NewLimiter(rate.Every(opts.RespawnEvery), opts.Size),
		ctx:     ctx,
		cancel:  cancel,
		idle:    make(chan *worker, opts.Size),
		slots:   make(chan struct{}, opts.Size),
		live:    make(map[*worker]struct{}),
		tasks:   make(map[string]*inflight),
	}
}

// Size returns the maximum number of workers.
func (p *Pool) Size() int {
	return p.opts.Size
}

// AdvanceEpoch marks every epoch before e as stale.
func (p *Pool) AdvanceEpoch(e uint64) {
	for {
		cur := p.epoch.Load()
		if e <= cur || p.epoch.CompareAndSwap(cur, e) {
			return
		}
	}
}

// Epoch returns the current epoch.
func (p *Pool) Epoch() uint64 {
	return p.epoch.Load()
}

// Run executes task and returns its result. Identical tasks of one epoch that are pending or
// running share one execution. listener, if not nil, receives the task's intermediate events.
func (p *Pool) Run(ctx context.Context, task domain.WorkerTask, listener Listener) ([]byte, error) {
	key := fmt.Sprintf("%d/%s", task.Epoch, task.Key)
	if task.Key == "" {
		key = fmt.Sprintf("%d/#%d", task.Epoch, p.taskID.Add(1))
	}

	for {
		data, err := p.run(ctx, key, task, listener)
		// The shared execution was abandoned by the callers that started it; start a new one.
		if errors.Is(err, errAbandoned) && ctx.Err() == nil {
			continue
		}
		return data, err
	}
}

func (p *Pool) run(ctx context.Context, key string, task domain.WorkerTask, listener Listener) ([]byte, error) {
	if task.Epoch < p.Epoch() {
		return nil, staleError(task)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}
	st, ok := p.tasks[key]
	if !ok {
		st = &inflight{listeners: make(map[int]Listener)}
		p.tasks[key] = st
	}
	st.waiters++
	p.nextWait++
	waitID := p.nextWait
	if listener != nil {
		st.listeners[waitID] = listener
	}
	handle := p.queue.Add(key, func(qctx context.Context, attempt int) ([]byte, error) {
		return p.execute(qctx, st, task, attempt)
	})
	p.mu.Unlock()

	p.kick()

	data, err := handle.Wait(ctx)
	p.leave(key, st, waitID, err != nil && ctx.Err() != nil)
	if err != nil {
		return nil, err
	}
	if task.Epoch < p.Epoch() {
		return nil, staleError(task)
	}
	return data, nil
}

// leave drops a waiter. The last waiter to give up cancels the task.
func (p *Pool) leave(key string, st *inflight, waitID int, gaveUp bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(st.listeners, waitID)
	st.waiters--
	if st.waiters > 0 {
		return
	}
	if gaveUp {
		st.abandoned = true
		if st.cancel != nil {
			st.cancel(errAbandoned)
		}
	}
	if p.tasks[key] == st {
		delete(p.tasks, key)
	}
}

// kick starts a queue runner. Run returns domain.ErrQueueRunning when a runner is already
// dispatching, and that runner picks up the new task.
func (p *Pool) kick() {
	p.runner.Add(1)
	go func() {
		defer p.runner.Done()
		for {
			err := p.queue.Run(p.ctx)
			if err == nil || errors.Is(err, domain.ErrQueueRunning) || p.ctx.Err() != nil {
				return
			}
			// The failed task's waiters already hold its error. Keep dispatching the rest,
			// including tasks that are about to be redispatched after a crash.
			if p.queue.Len() == 0 && p.queue.Active() == 0 {
				return
			}
		}
	}()
}

func (p *Pool) execute(qctx context.Context, st *inflight, task domain.WorkerTask, attempt int) ([]byte, error) {
	ctx, cancel := context.WithCancelCause(qctx)
	defer cancel(nil)

	p.mu.Lock()
	if st.abandoned {
		p.mu.Unlock()
		return nil, errAbandoned
	}
	st.cancel = cancel
	p.mu.Unlock()

	if task.Epoch < p.Epoch() {
		return nil, staleError(task)
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	data, err := p.dispatch(ctx, w, st, task)
	if isCrash(err) {
		p.discard(w)
		if p.opts.Metrics != nil {
			p.opts.Metrics.WorkerCrashed()
		}
		p.warn(fmt.Sprintf("worker %s crashed running %s (attempt %d)", w.conn.ID(), task.Kind, attempt))
		if attempt >= maxAttempts {
			return nil, zerr.With(zerr.Wrap(errors.Join(domain.ErrWorkerCrashedTwice, err), "task crashed its worker twice"), "kind", task.Kind)
		}
		return nil, err
	}
	return data, err
}

// dispatch sends task to w and waits for its finished message. The worker is returned to the
// idle set unless it crashed.
func (p *Pool) dispatch(ctx context.Context, w *worker, st *inflight, task domain.WorkerTask) ([]byte, error) {
	id := p.taskID.Add(1)
	msg := domain.Message{Event: task.Kind, TaskID: id, Epoch: task.Epoch, Data: task.Payload}
	if err := w.conn.Send(msg); err != nil {
		return nil, crashError(err, w)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		_ = w.conn.Send(domain.Message{Event: domain.EventCancel, TaskID: id, Epoch: task.Epoch})
		select {
		case <-done:
		case <-time.After(p.opts.CancelGrace):
			_ = w.conn.Kill()
		}
	}()

	for {
		reply, err := w.conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				p.discard(w)
				return nil, context.Cause(ctx)
			}
			return nil, crashError(err, w)
		}
		if reply.TaskID != id {
			continue
		}
		if reply.Event != domain.EventFinished {
			p.emit(st, task, reply)
			continue
		}

		p.release(w)
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		if reply.Error != "" {
			err := zerr.With(zerr.Wrap(domain.ErrTaskFailed, reply.Error), "kind", task.Kind)
			return nil, zerr.With(err, "worker", w.conn.ID())
		}
		return reply.Data, nil
	}
}

func (p *Pool) emit(st *inflight, task domain.WorkerTask, msg domain.Message) {
	if p.opts.OnEvent != nil {
		p.opts.OnEvent(task, msg)
	}

	p.mu.Lock()
	listeners := make([]Listener, 0, len(st.listeners))
	for _, l := range st.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(msg)
	}
}

// acquire returns an idle worker or spawns one while fewer than Size are alive.
func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	select {
	case w := <-p.idle:
		return w, nil
	default:
	}

	select {
	case w := <-p.idle:
		return w, nil
	case p.slots <- struct{}{}:
		w, err := p.spawn(ctx)
		if err != nil {
			<-p.slots
			return nil, err
		}
		return w, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (p *Pool) spawn(ctx context.Context) (*worker, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, context.Cause(ctx)
	}
	conn, err := p.opts.Spawner.Spawn(ctx)
	if err != nil {
		return nil, err
	}

	w := &worker{conn: conn}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Kill()
		return nil, domain.ErrPoolClosed
	}
	p.live[w] = struct{}{}
	return w, nil
}

func (p *Pool) release(w *worker) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.idle <- w
}

func (p *Pool) discard(w *worker) {
	_ = w.conn.Kill()
	go func() { _ = w.conn.Wait() }()

	p.mu.Lock()
	_, ok := p.live[w]
	delete(p.live, w)
	p.mu.Unlock()
	if ok {
		<-p.slots
	}
}

// Close terminates every worker. Pending and running tasks fail with domain.ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := make([]*worker, 0, len(p.live))
	for w := range p.live {
		workers = append(workers, w)
	}
	p.live = make(map[*worker]struct{})
	p.mu.Unlock()

	p.cancel(domain.ErrPoolClosed)
	p.queue.Clear(domain.ErrPoolClosed)
	var errs []error
	for _, w := range workers {
		if err := w.conn.Kill(); err != nil {
			errs = append(errs, err)
		}
		_ = w.conn.Wait()
	}
	p.runner.Wait()
	return errors.Join(errs...)
}

func (p *Pool) warn(msg string) {
	if p.opts.Logger != nil {
		p.opts.Logger.Warn(msg)
	}
}

func isCrash(err error) bool {
	return errors.Is(err, domain.ErrWorkerCrashed)
}

func crashError(err error, w *worker) error {
	if isCrash(err) {
		return err
	}
	return zerr.With(errors.Join(domain.ErrWorkerCrashed, err), "worker", w.conn.ID())
}

func staleError(task domain.WorkerTask) error {
	return zerr.With(zerr.Wrap(domain.ErrStaleEpoch, "dropping task result"), "epoch", task.Epoch)
}
