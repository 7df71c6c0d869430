package tracker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/graph"
	"go.trai.ch/zerr"
)

// Request is a unit of work tracked by the graph.
type Request interface {
	// Key identifies the request. Requests with equal keys are the same node.
	Key() string
	// Type names the kind of request in diagnostics and metrics.
	Type() string
	// Run executes the request body.
	Run(ctx context.Context, api API) error
}

// call is the in-flight or completed execution of one key within a build.
type call struct {
	done chan struct{}
	data []byte
	err  error
}

// Build is one run of the tracker under a single epoch. Results are memoised per build, so a
// request runs at most once per build regardless of how many callers ask for it.
type Build struct {
	t       *Tracker
	id      string
	epoch   uint64
	started time.Time
	env     map[string]string
	options map[string]string

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	// Guarded by t.mu.
	calls       map[string]*call
	waits       map[string]map[string]int
	roots       []string
	finished    bool
	fatal       error
	causes      []domain.InvalidationCause
	diagnostics []domain.Diagnostic
	executed    int
	cached      int
	errored     int
	report      *Report
}

func newBuild(ctx context.Context, t *Tracker, in BuildInput, causes []domain.InvalidationCause) *Build {
	bctx, cancel := context.WithCancelCause(ctx)
	return &Build{
		t:       t,
		id:      uuid.NewString(),
		epoch:   t.epoch,
		started: time.Now(),
		env:     in.Env,
		options: in.Options,
		ctx:     bctx,
		cancel:  cancel,
		calls:   make(map[string]*call),
		waits:   make(map[string]map[string]int),
		causes:  causes,
	}
}

// ID returns the unique id of the build.
func (b *Build) ID() string { return b.id }

// Epoch returns the epoch of the build.
func (b *Build) Epoch() uint64 { return b.epoch }

// Invalidations returns the causes applied when the build started.
func (b *Build) Invalidations() []domain.InvalidationCause {
	return slices.Clone(b.causes)
}

// Run runs req as a root of the build and returns its result.
func (b *Build) Run(ctx context.Context, req Request) ([]byte, error) {
	return b.run(ctx, "", req)
}

// Cancel stops the build. Running requests unwind without committing anything.
func (b *Build) Cancel(cause error) {
	if cause == nil {
		cause = domain.ErrBuildCancelled
	}
	b.cancel(cause)
}

// Done is closed when the build is cancelled.
func (b *Build) Done() <-chan struct{} {
	return b.ctx.Done()
}

func (b *Build) run(ctx context.Context, caller string, req Request) ([]byte, error) {
	key := req.Key()
	t := b.t

	t.mu.Lock()
	if caller == "" && b.finished {
		t.mu.Unlock()
		return nil, zerr.With(zerr.Wrap(domain.ErrBuildFinished, "cannot run request"), "request", key)
	}
	if b.ctx.Err() != nil {
		t.mu.Unlock()
		return nil, b.cancelled()
	}

	c, ok := b.calls[key]
	if ok && caller != "" {
		if path := b.waitPath(key, caller); path != nil {
			err := cycleError(append([]string{caller}, path...))
			b.fatal = err
			t.mu.Unlock()
			b.cancel(err)
			return nil, err
		}
	}
	if !ok {
		c = &call{done: make(chan struct{})}
		b.calls[key] = c
		b.wg.Add(1)
		go b.execute(ctx, c, req)
	}
	if caller == "" {
		if !slices.Contains(b.roots, key) {
			b.roots = append(b.roots, key)
		}
	} else {
		b.addWait(caller, key)
		defer b.removeWait(caller, key)
	}
	t.mu.Unlock()

	select {
	case <-c.done:
		// Each caller owns its copy; c.data also backs the graph's in-memory result.
		return slices.Clone(c.data), c.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// execute runs one key for the build. It is detached from the caller's cancellation and bound to
// the build's, so a caller that stops waiting does not abort work other callers share.
func (b *Build) execute(parent context.Context, c *call, req Request) {
	defer b.wg.Done()
	defer close(c.done)

	ctx, stop := context.WithCancelCause(context.WithoutCancel(parent))
	defer stop(nil)
	unbind := context.AfterFunc(b.ctx, func() { stop(context.Cause(b.ctx)) })
	defer unbind()

	key, typ := req.Key(), req.Type()
	start := time.Now()

	data, hit, err := b.lookup(ctx, key)
	if err != nil {
		c.err = err
		if b.ctx.Err() == nil {
			c.err = b.failCached(key, typ, err)
			b.t.observe(typ, "errored", time.Since(start))
		}
		return
	}
	if hit {
		c.data = data
		b.reportCached(ctx, req, time.Since(start))
		return
	}

	ctx, span := b.t.startSpan(ctx, req, b.epoch)
	defer span.End()

	e := newExecution(b, key, typ, span)
	err = req.Run(ctx, e)
	if b.ctx.Err() != nil {
		c.err = b.cancelled()
		span.RecordError(c.err)
		return
	}
	if err != nil {
		c.err = b.fail(key, typ, e, err)
		span.RecordError(c.err)
		b.t.observe(typ, "errored", time.Since(start))
		return
	}

	data = e.resultBytes()
	ref := domain.ContentKey(data)
	b.t.store.SetBlob(ctx, ref, data)

	if !b.commit(key, e, data, ref) {
		c.err = b.cancelled()
		span.RecordError(c.err)
		return
	}
	c.data = data
	b.t.observe(typ, "executed", time.Since(start))
}

// lookup returns the committed result of key when its node is Valid. A missing blob is a miss.
// Unknown keys are not added to the graph; commit and fail create the node.
func (b *Build) lookup(ctx context.Context, key string) ([]byte, bool, error) {
	t := b.t
	t.mu.Lock()
	data, ref, ok := t.g.Result(key)
	t.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	if data != nil {
		return data, true, nil
	}

	data, found, err := t.store.GetBlob(ctx, ref)
	if err != nil {
		if b.ctx.Err() != nil {
			return nil, false, b.cancelled()
		}
		return nil, false, err
	}
	if !found {
		t.warn("result " + ref + " of " + key + " is missing from the content store, re-executing")
		return nil, false, nil
	}
	if data == nil {
		data = []byte{}
	}
	return data, true, nil
}

func (b *Build) reportCached(ctx context.Context, req Request, d time.Duration) {
	_, span := b.t.startSpan(ctx, req, b.epoch)
	span.SetAttribute(domain.AttrCached, true)
	span.End()

	b.t.mu.Lock()
	b.cached++
	b.t.mu.Unlock()
	b.t.observe(req.Type(), "cached", d)
}

// commit stores a successful execution. It reports false when the build was cancelled first.
func (b *Build) commit(key string, e *execution, data []byte, ref string) bool {
	t := b.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if b.ctx.Err() != nil {
		return false
	}
	edges := b.observe(e)
	t.g.Commit(key, edges, data, ref)
	if domain.KindForSize(len(data)) == domain.EntryBlob {
		t.g.ForgetResult(key)
	}
	b.executed++
	return true
}

// observe records the inputs an execution saw and returns its edges. The caller holds t.mu.
func (b *Build) observe(e *execution) graph.Edges {
	rec := e.record()
	for _, path := range sortedKeys(rec.files) {
		b.t.g.ObserveFile(path, rec.files[path])
	}
	for _, name := range rec.env {
		b.t.g.ObserveEnv(name, b.env[name])
	}
	for _, name := range rec.options {
		b.t.g.ObserveOption(name, b.options[name])
	}
	return rec.edges
}

// fail marks key Errored with the edges recorded before the failure. Only errors that originate
// in this request become build diagnostics; a failure propagated from a subrequest is passed on.
func (b *Build) fail(key, typ string, e *execution, err error) error {
	t := b.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if b.ctx.Err() != nil {
		return b.cancelled()
	}
	edges := b.observe(e)
	t.g.Fail(key, edges, err.Error())
	b.errored++

	if errors.Is(err, domain.ErrRequestExecution) {
		return err
	}
	diag := domain.Diagnostic{RequestKey: key, RequestType: typ, Err: err}
	b.diagnostics = append(b.diagnostics, diag)
	return zerr.With(zerr.With(error(diag), "request", key), "type", typ)
}

// failCached records a cache read failure of a Valid node. The node keeps its edges, so the
// triggers it was subscribed to still fire.
func (b *Build) failCached(key, typ string, err error) error {
	t := b.t
	t.mu.Lock()
	defer t.mu.Unlock()

	var edges graph.Edges
	if rec, ok := t.g.Node(key); ok {
		edges = graph.Edges{Invalidations: rec.Invalidations, Subrequests: rec.Subrequests}
	}
	t.g.Fail(key, edges, err.Error())
	b.errored++
	diag := domain.Diagnostic{RequestKey: key, RequestType: typ, Err: err}
	b.diagnostics = append(b.diagnostics, diag)
	return zerr.With(zerr.With(error(diag), "request", key), "type", typ)
}

func (b *Build) cancelled() error {
	return errors.Join(domain.ErrBuildCancelled, context.Cause(b.ctx))
}

// Finish waits for every execution of the build, persists the graph changes it made and returns
// the build report. The returned error reports persistence failures only; request failures are in
// Report.Err.
func (b *Build) Finish(ctx context.Context) (*Report, error) {
	t := b.t

	t.mu.Lock()
	if b.report != nil {
		t.mu.Unlock()
		return b.report, nil
	}
	b.finished = true
	t.mu.Unlock()

	b.wg.Wait()

	t.mu.Lock()
	cancelled := b.ctx.Err() != nil
	b.cancel(context.Canceled)

	report := &Report{
		ID:          b.id,
		Epoch:       b.epoch,
		Executed:    b.executed,
		Cached:      b.cached,
		Errored:     b.errored,
		Invalidated: len(b.causes),
		Diagnostics: slices.Clone(b.diagnostics),
		Fatal:       b.fatal,
		Cancelled:   cancelled && b.fatal == nil,
		Duration:    time.Since(b.started),
	}
	if t.gc && !cancelled {
		report.Collected = len(t.g.Collect(b.roots))
	}

	deltas := t.g.Deltas()
	var snap *domain.GraphSnapshot
	if t.journal != nil && (t.dirty || t.journal.Len()+len(deltas) >= t.checkpointEvery) {
		s := t.g.Snapshot()
		snap = &s
	}
	t.mu.Unlock()

	// The build stays active until its changes are persisted, so the next build's deltas are
	// appended after this one's.
	err := t.persist(ctx, deltas, snap)

	t.mu.Lock()
	t.dirty = err != nil
	t.active = nil
	b.report = report
	t.mu.Unlock()

	return report, err
}

func (b *Build) addWait(caller, callee string) {
	m, ok := b.waits[caller]
	if !ok {
		m = make(map[string]int)
		b.waits[caller] = m
	}
	m[callee]++
}

func (b *Build) removeWait(caller, callee string) {
	b.t.mu.Lock()
	defer b.t.mu.Unlock()
	m := b.waits[caller]
	if m[callee]--; m[callee] <= 0 {
		delete(m, callee)
	}
	if len(m) == 0 {
		delete(b.waits, caller)
	}
}

// waitPath returns the waits-for path from -> ... -> to, or nil if to is not reachable.
func (b *Build) waitPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	visited := map[string]bool{from: true}
	var walk func(key string) []string
	walk = func(key string) []string {
		for _, next := range sortedKeys(b.waits[key]) {
			if next == to {
				return []string{key, next}
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if rest := walk(next); rest != nil {
				return append([]string{key}, rest...)
			}
		}
		return nil
	}
	return walk(from)
}

func (t *Tracker) startSpan(ctx context.Context, req Request, epoch uint64) (context.Context, ports.Span) {
	if t.tracer == nil {
		return ctx, noopSpan{}
	}
	ctx, span := t.tracer.Start(ctx, describe(req), ports.WithRequestType(req.Type()))
	span.SetAttribute(domain.AttrRequestKey, req.Key())
	span.SetAttribute(domain.AttrEpoch, epoch)
	return ctx, span
}

func (t *Tracker) observe(typ, outcome string, d time.Duration) {
	if t.metrics != nil {
		t.metrics.RequestFinished(typ, outcome, d)
	}
}

// describe names a request in spans. Requests that implement fmt.Stringer name themselves.
func describe(req Request) string {
	if s, ok := req.(interface{ String() string }); ok {
		return s.String()
	}
	return req.Type() + " " + req.Key()
}

type noopSpan struct{}

func (noopSpan) Write(p []byte) (int, error) { return len(p), nil }
func (noopSpan) End()                        {}
func (noopSpan) RecordError(error)           {}
func (noopSpan) SetAttribute(string, any)    {}
