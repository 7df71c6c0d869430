package tracker_test

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/kiln/internal/engine/workerpool"
)

// req is a request whose body is a closure. runs counts executions of the body.
type req struct {
	key  string
	typ  string
	body func(ctx context.Context, api tracker.API) error
	runs *atomic.Int32
}

func newReq(key string, body func(ctx context.Context, api tracker.API) error) *req {
	return &req{key: key, typ: "test", body: body, runs: new(atomic.Int32)}
}

func (r *req) Key() string  { return r.key }
func (r *req) Type() string { return r.typ }

func (r *req) Run(ctx context.Context, api tracker.API) error {
	r.runs.Add(1)
	return r.body(ctx, api)
}

func (r *req) count() int { return int(r.runs.Load()) }

// memJournal keeps the snapshot and delta log in memory.
type memJournal struct {
	mu     sync.Mutex
	snap   domain.GraphSnapshot
	deltas []domain.GraphDelta
}

func (j *memJournal) Load(context.Context) (domain.GraphSnapshot, []domain.GraphDelta, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap, slices.Clone(j.deltas), nil
}

func (j *memJournal) Append(_ context.Context, deltas []domain.GraphDelta) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deltas = append(j.deltas, deltas...)
	return nil
}

func (j *memJournal) Checkpoint(_ context.Context, snap domain.GraphSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snap = snap
	j.deltas = slices.DeleteFunc(j.deltas, func(d domain.GraphDelta) bool { return d.Seq <= snap.Seq })
	return nil
}

func (j *memJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.deltas)
}

// memStore is a content store over a map.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) GetBlob(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	return data, ok, nil
}

func (s *memStore) SetBlob(_ context.Context, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = slices.Clone(data)
}

func (s *memStore) Exists(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

func (s *memStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.blobs)
}

// files is an in-memory file system for fingerprints. Missing paths fingerprint as "".
type files struct {
	mu sync.Mutex
	fp map[string]string
}

func newFiles(initial map[string]string) *files {
	return &files{fp: maps.Clone(initial)}
}

func (f *files) Fingerprint(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fp == nil {
		return "", nil
	}
	return f.fp[path], nil
}

func (f *files) set(path, fingerprint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fp == nil {
		f.fp = make(map[string]string)
	}
	f.fp[path] = fingerprint
}

func (f *files) glob(pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range slices.Sorted(maps.Keys(f.fp)) {
		if p == pattern && f.fp[p] != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// tasks records worker tasks and answers them with their payload.
type tasks struct {
	mu     sync.Mutex
	epochs []uint64
	seen   []domain.WorkerTask
}

func (r *tasks) Run(_ context.Context, task domain.WorkerTask, listener workerpool.Listener) ([]byte, error) {
	r.mu.Lock()
	r.seen = append(r.seen, task)
	r.mu.Unlock()
	listener(domain.Message{Event: domain.EventLog, Data: []byte("working\n")})
	return append([]byte("done:"), task.Payload...), nil
}

func (r *tasks) AdvanceEpoch(e uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochs = append(r.epochs, e)
}

type env struct {
	journal *memJournal
	store   *memStore
	files   *files
	tasks   *tasks
}

func newEnv(fp map[string]string) *env {
	return &env{
		journal: &memJournal{},
		store:   newMemStore(),
		files:   newFiles(fp),
		tasks:   &tasks{},
	}
}

func (e *env) tracker(t *testing.T, mutate ...func(*tracker.Options)) *tracker.Tracker {
	t.Helper()
	opts := tracker.Options{
		Journal:       e.journal,
		Store:         e.store,
		Fingerprinter: e.files,
		Tasks:         e.tasks,
		Glob:          e.files.glob,
	}
	for _, m := range mutate {
		m(&opts)
	}
	tr, err := tracker.New(t.Context(), opts)
	require.NoError(t, err)
	return tr
}

// build runs roots in a fresh build and returns their results and the report.
func build(t *testing.T, tr *tracker.Tracker, in tracker.BuildInput, roots ...tracker.Request) ([][]byte, []error, *tracker.Report) {
	t.Helper()
	b, err := tr.StartBuild(t.Context(), in)
	require.NoError(t, err)

	results := make([][]byte, len(roots))
	errs := make([]error, len(roots))
	for i, r := range roots {
		results[i], errs[i] = b.Run(t.Context(), r)
	}
	report, err := b.Finish(t.Context())
	require.NoError(t, err)
	return results, errs, report
}

// readFile is a request that subscribes to path and stores its fingerprint.
func readFile(path string) *req {
	return newReq("file:"+path, func(_ context.Context, api tracker.API) error {
		api.InvalidateOnFileChange(path)
		sum, err := api.Fingerprint(path)
		if err != nil {
			return err
		}
		if sum == "" {
			return domain.ErrInputNotFound
		}
		api.StoreResult([]byte(sum))
		return nil
	})
}

// parent is a request that runs its children in order and stores their joined results.
func parent(key string, children ...tracker.Request) *req {
	return newReq(key, func(ctx context.Context, api tracker.API) error {
		var out []byte
		for _, c := range children {
			data, err := api.RunRequest(ctx, c)
			if err != nil {
				return err
			}
			out = append(out, data...)
			out = append(out, '|')
		}
		api.StoreResult(out)
		return nil
	})
}
