package tracker

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/graph"
	"go.trai.ch/zerr"
)

// API is what a request body sees of the tracker. Every InvalidateOn call and every RunRequest
// records an edge of the running request; the edges replace the previous execution's once the
// body returns. API methods may be called from several goroutines of the same body.
type API interface {
	// InvalidateOnFileChange re-runs the request when the content of path changes.
	InvalidateOnFileChange(path string)
	// InvalidateOnFileCreate re-runs the request when a file matching pattern is created.
	InvalidateOnFileCreate(pattern string)
	// InvalidateOnEnvChange re-runs the request when the environment variable changes value.
	InvalidateOnEnvChange(name string)
	// InvalidateOnOptionChange re-runs the request when the build option changes value.
	InvalidateOnOptionChange(name string)
	// InvalidateOnStartup re-runs the request once per process.
	InvalidateOnStartup()
	// InvalidateOnBuild re-runs the request on every build.
	InvalidateOnBuild()
	// RunRequest runs sub as a subrequest and returns its result.
	RunRequest(ctx context.Context, sub Request) ([]byte, error)
	// StoreResult sets the result committed when the body returns successfully.
	StoreResult(data []byte)

	// Env returns the value of an environment variable in the build's snapshot.
	Env(name string) string
	// Option returns the value of a build option.
	Option(name string) string
	// Fingerprint returns the content fingerprint of path, or "" if it does not exist.
	Fingerprint(path string) (string, error)
	// RunTask runs a task on the worker pool under the build's epoch.
	RunTask(ctx context.Context, kind string, payload []byte) ([]byte, error)
	// Store returns the content store, for action-level caching.
	Store() ports.ContentStore
	// Epoch returns the build epoch.
	Epoch() uint64
}

// execution implements API for one run of one request body.
type execution struct {
	b    *Build
	key  string
	typ  string
	span ports.Span

	mu            sync.Mutex
	invalidations []domain.Invalidation
	subrequests   []string
	files         map[string]string
	env           []string
	options       []string
	result        []byte
}

type executionRecord struct {
	edges   graph.Edges
	files   map[string]string
	env     []string
	options []string
}

func newExecution(b *Build, key, typ string, span ports.Span) *execution {
	return &execution{
		b:     b,
		key:   key,
		typ:   typ,
		span:  span,
		files: make(map[string]string),
	}
}

func (e *execution) invalidate(kind domain.InvalidationKind, target string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidations = append(e.invalidations, domain.Invalidation{Kind: kind, Target: target})
}

func (e *execution) InvalidateOnFileChange(path string) {
	// Hash outside the lock; the first observation of a path wins.
	sum, err := e.b.t.fp.Fingerprint(path)
	if err != nil {
		e.b.t.warn(fmt.Sprintf("fingerprint of %s failed, treating it as absent: %v", path, err))
		sum = ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidations = append(e.invalidations, domain.Invalidation{Kind: domain.InvalidateOnFileChange, Target: path})
	if _, ok := e.files[path]; !ok {
		e.files[path] = sum
	}
}

func (e *execution) InvalidateOnFileCreate(pattern string) {
	e.invalidate(domain.InvalidateOnFileCreate, pattern)
}

func (e *execution) InvalidateOnEnvChange(name string) {
	e.invalidate(domain.InvalidateOnEnvChange, name)
	e.mu.Lock()
	e.env = append(e.env, name)
	e.mu.Unlock()
}

func (e *execution) InvalidateOnOptionChange(name string) {
	e.invalidate(domain.InvalidateOnOptionChange, name)
	e.mu.Lock()
	e.options = append(e.options, name)
	e.mu.Unlock()
}

func (e *execution) InvalidateOnStartup() {
	e.invalidate(domain.InvalidateOnStartup, "")
}

func (e *execution) InvalidateOnBuild() {
	e.invalidate(domain.InvalidateOnBuild, "")
}

func (e *execution) RunRequest(ctx context.Context, sub Request) ([]byte, error) {
	e.mu.Lock()
	e.subrequests = append(e.subrequests, sub.Key())
	e.mu.Unlock()
	return e.b.run(ctx, e.key, sub)
}

func (e *execution) StoreResult(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result = slices.Clone(data)
	if e.result == nil {
		e.result = []byte{}
	}
}

func (e *execution) Env(name string) string {
	return e.b.env[name]
}

func (e *execution) Option(name string) string {
	return e.b.options[name]
}

func (e *execution) Fingerprint(path string) (string, error) {
	e.mu.Lock()
	sum, ok := e.files[path]
	e.mu.Unlock()
	if ok {
		return sum, nil
	}
	return e.b.t.fp.Fingerprint(path)
}

func (e *execution) RunTask(ctx context.Context, kind string, payload []byte) ([]byte, error) {
	tasks := e.b.t.tasks
	if tasks == nil {
		return nil, zerr.With(zerr.New("no worker pool configured"), "kind", kind)
	}
	task := domain.WorkerTask{
		Key:     kind + ":" + domain.ContentKey(payload),
		Kind:    kind,
		Payload: payload,
		Epoch:   e.b.epoch,
	}
	return tasks.Run(ctx, task, func(msg domain.Message) {
		if msg.Event == domain.EventLog {
			_, _ = e.span.Write(msg.Data)
		}
	})
}

func (e *execution) Store() ports.ContentStore {
	return e.b.t.store
}

func (e *execution) Epoch() uint64 {
	return e.b.epoch
}

func (e *execution) resultBytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return []byte{}
	}
	return e.result
}

func (e *execution) record() executionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return executionRecord{
		edges: graph.Edges{
			Invalidations: slices.Clone(e.invalidations),
			Subrequests:   slices.Clone(e.subrequests),
		},
		files:   maps.Clone(e.files),
		env:     slices.Clone(e.env),
		options: slices.Clone(e.options),
	}
}
