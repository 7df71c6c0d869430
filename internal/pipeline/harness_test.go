package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/plugin"
	"go.trai.ch/kiln/internal/engine/tracker"
	"go.trai.ch/kiln/internal/engine/workerpool"
	"go.trai.ch/kiln/internal/pipeline"
)

// recorder is an executor that records the commands it runs.
type recorder struct {
	mu   sync.Mutex
	runs []string
	envs []map[string]string
	exit map[string]int
}

func (r *recorder) Execute(_ context.Context, spec domain.ExecSpec, out io.Writer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := strings.Join(spec.Cmd, " ")
	r.runs = append(r.runs, cmd)
	r.envs = append(r.envs, spec.Env)
	_, _ = fmt.Fprintf(out, "ran %s\n", cmd)
	return r.exit[cmd], nil
}

func (r *recorder) Runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.runs)
}

// localTasks answers worker tasks in process through the built-in plugins.
type localTasks struct {
	reg *plugin.Registry
}

func (l localTasks) Run(ctx context.Context, task domain.WorkerTask, listener workerpool.Listener) ([]byte, error) {
	p, err := l.reg.Lookup(task.Kind)
	if err != nil {
		return nil, err
	}
	return p.Handle(ctx, task.Payload, func(event string, data []byte) {
		if listener != nil {
			listener(domain.Message{Event: event, Data: data})
		}
	})
}

func (localTasks) AdvanceEpoch(uint64) {}

// memStore is a content store over a map.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
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

type harness struct {
	root  string
	exec  *recorder
	store *memStore
	tr    *tracker.Tracker
	p     *pipeline.Pipeline
}

func newHarness(t *testing.T, files map[string]string, targets ...*domain.Target) *harness {
	t.Helper()
	root := t.TempDir()
	project := &domain.Project{Root: root, Targets: make(map[string]*domain.Target)}
	for _, target := range targets {
		project.Targets[target.Name] = target
	}

	h := &harness{
		root:  root,
		exec:  &recorder{exit: make(map[string]int)},
		store: &memStore{blobs: make(map[string][]byte)},
		p:     pipeline.New(project, pipeline.WithFanout(4)),
	}
	for name, content := range files {
		h.write(t, name, content)
	}
	h.restart(t)
	return h
}

// restart replaces the tracker with one holding an empty graph over the same content store.
func (h *harness) restart(t *testing.T) {
	t.Helper()
	fp := fs.NewFingerprinter()
	tr, err := tracker.New(t.Context(), tracker.Options{
		Store:         h.store,
		Fingerprinter: fp,
		Tasks:         localTasks{reg: plugin.Builtin(h.exec, fp)},
	})
	require.NoError(t, err)
	h.tr = tr
}

func (h *harness) path(name string) string {
	return filepath.Join(h.root, filepath.FromSlash(name))
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	path := h.path(name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), domain.DirPerm))
	require.NoError(t, os.WriteFile(path, []byte(content), domain.PrivateFilePerm))
}

func (h *harness) notify(kind domain.FileEventKind, names ...string) {
	for _, name := range names {
		h.tr.Notify(domain.FileEvent{Kind: kind, Path: h.path(name)})
	}
}

func (h *harness) build(t *testing.T, in tracker.BuildInput, reqs ...tracker.Request) ([][]byte, []error, *tracker.Report) {
	t.Helper()
	b, err := h.tr.StartBuild(t.Context(), in)
	require.NoError(t, err)

	results := make([][]byte, len(reqs))
	errs := make([]error, len(reqs))
	for i, r := range reqs {
		results[i], errs[i] = b.Run(t.Context(), r)
	}
	report, err := b.Finish(t.Context())
	require.NoError(t, err)
	return results, errs, report
}
