package app_test

import (
	"context"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/cas"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
)

// fakeWatcher delivers batches pushed by the test.
type fakeWatcher struct {
	root    chan string
	batches chan []domain.FileEvent
	done    chan struct{}
	once    sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		root:    make(chan string, 1),
		batches: make(chan []domain.FileEvent),
		done:    make(chan struct{}),
	}
}

func (w *fakeWatcher) Start(_ context.Context, root string) error {
	w.root <- root
	return nil
}

func (w *fakeWatcher) Stop() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

func (w *fakeWatcher) Batches() iter.Seq[[]domain.FileEvent] {
	return func(yield func([]domain.FileEvent) bool) {
		for {
			select {
			case batch := <-w.batches:
				if !yield(batch) {
					return
				}
			case <-w.done:
				return
			}
		}
	}
}

func (w *fakeWatcher) push(t *testing.T, events ...domain.FileEvent) {
	t.Helper()
	select {
	case w.batches <- events:
	case <-time.After(10 * time.Second):
		t.Fatal("watch loop did not take the batch")
	}
}

func TestApp_Watch(t *testing.T) {
	f := newFixture(t, recordingProject, map[string]string{"in.txt": "one"})
	w := newFakeWatcher()
	f.app.WithWatcher(func() (ports.Watcher, error) { return w, nil })

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- f.app.Watch(ctx, []string{"gen"}, app.BuildOptions{OutputMode: "linear"})
	}()

	require.Equal(t, f.root, <-w.root)
	require.Eventually(t, func() bool { return f.runs() == 1 }, 10*time.Second, 10*time.Millisecond)

	writeFile(t, f.root, "in.txt", "two")
	w.push(t, domain.FileEvent{Kind: domain.FileUpdated, Path: filepath.Join(f.root, "in.txt")})
	require.Eventually(t, func() bool { return f.runs() == 2 }, 10*time.Second, 10*time.Millisecond)

	// A changed kiln.yaml is reloaded and the target runs its new command.
	writeFile(t, f.root, domain.ConfigFileName, `version: "1"
workers: 1
targets:
  gen:
    inputs: [in.txt]
    cmd: [sh, -c, "echo reloaded >> runs.log"]
`)
	w.push(t, domain.FileEvent{Kind: domain.FileUpdated, Path: filepath.Join(f.root, domain.ConfigFileName)})
	require.Eventually(t, func() bool { return f.runs() == 3 }, 10*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestApp_ServeCache(t *testing.T) {
	tests := []struct {
		name string
		opts func(root string) app.CacheServeOptions
	}{
		{
			name: "directory",
			opts: func(root string) app.CacheServeOptions {
				return app.CacheServeOptions{Dir: filepath.Join(root, "served")}
			},
		},
		{
			name: "database",
			opts: func(root string) app.CacheServeOptions {
				return app.CacheServeOptions{DB: filepath.Join(root, "served-db")}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, recordingProject, nil)

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			ready := make(chan string, 1)
			opts := tt.opts(f.root)
			opts.Addr = "127.0.0.1:0"
			opts.Ready = func(addr string) { ready <- addr }

			errc := make(chan error, 1)
			go func() { errc <- f.app.ServeCache(ctx, opts) }()

			var addr string
			select {
			case addr = <-ready:
			case err := <-errc:
				t.Fatalf("cache server stopped early: %v", err)
			}

			remote := cas.NewHTTPBackend("http://"+addr, true)
			key := domain.ContentKey([]byte("payload"))
			require.NoError(t, remote.Set(ctx, key, []byte("payload")))

			data, found, err := remote.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("payload"), data)

			cancel()
			require.NoError(t, <-errc)
		})
	}
}
