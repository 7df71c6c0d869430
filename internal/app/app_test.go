package app_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/cas"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/adapters/ipc"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/adapters/shell"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

const workerEnv = "KILN_TEST_WORKER"

// TestMain doubles as the worker binary: builds under test re-execute this test binary with
// workerEnv set.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		log := logger.New()
		a := app.New(app.Deps{
			Logger:        log,
			Executor:      shell.NewExecutor(log),
			Fingerprinter: fs.NewFingerprinter(),
		})
		if err := a.ServeWorker(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// lockedBuffer is a bytes.Buffer safe for the concurrent writes of a logger and a renderer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	root   string
	logs   *lockedBuffer
	stdout *lockedBuffer
	app    *app.App
}

func newFixture(t *testing.T, kilnfile string, files map[string]string) *fixture {
	t.Helper()

	root := t.TempDir()
	writeFile(t, root, domain.ConfigFileName, kilnfile)
	for name, content := range files {
		writeFile(t, root, name, content)
	}

	f := &fixture{root: root, logs: &lockedBuffer{}, stdout: &lockedBuffer{}}
	log := logger.New()
	log.(*logger.Logger).SetOutput(f.logs)

	spawner, err := ipc.NewSpawner(
		ipc.WithCommand(os.Args[0], "-test.run=^$"),
		ipc.WithEnv(workerEnv+"=1"),
		ipc.WithStderr(io.Discard),
	)
	require.NoError(t, err)

	metrics := telemetry.NewMetrics()
	f.app = app.New(app.Deps{
		Loader:        config.NewLoader(log),
		Logger:        log,
		Executor:      shell.NewExecutor(log),
		Fingerprinter: fs.NewFingerprinter(),
		Spawner:       spawner,
		Opener:        cas.NewOpener(log, metrics),
		Metrics:       metrics,
		Walker:        fs.NewWalker(),
	}).WithDir(root).WithOutput(f.stdout, io.Discard)
	return f
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), domain.DirPerm))
	require.NoError(t, os.WriteFile(path, []byte(content), domain.FilePerm))
}

// runs returns the number of lines targets appended to runs.log.
func (f *fixture) runs() int {
	data, err := os.ReadFile(filepath.Join(f.root, "runs.log"))
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "\n")
}

func (f *fixture) build(t *testing.T, opts app.BuildOptions, targets ...string) error {
	t.Helper()
	opts.OutputMode = "linear"
	return f.app.Build(t.Context(), targets, opts)
}

const recordingProject = `version: "1"
workers: 1
targets:
  gen:
    inputs: [in.txt]
    cmd: [sh, -c, "echo ran >> runs.log && echo generated"]
`

func TestApp_Build(t *testing.T) {
	f := newFixture(t, recordingProject, map[string]string{"in.txt": "one"})

	require.NoError(t, f.build(t, app.BuildOptions{}, "gen"))
	assert.Equal(t, 1, f.runs())
	assert.DirExists(t, filepath.Join(f.root, domain.DefaultDBPath()))

	// A second process reuses the persisted graph.
	require.NoError(t, f.build(t, app.BuildOptions{}, "gen"))
	assert.Equal(t, 1, f.runs())

	writeFile(t, f.root, "in.txt", "two")
	require.NoError(t, f.build(t, app.BuildOptions{}, "gen"))
	assert.Equal(t, 2, f.runs())
	assert.Contains(t, f.logs.String(), "executed")
}

func TestApp_Build_OptionOverride(t *testing.T) {
	f := newFixture(t, recordingProject, map[string]string{"in.txt": "one"})

	require.NoError(t, f.build(t, app.BuildOptions{}, "gen"))
	require.NoError(t, f.build(t, app.BuildOptions{
		Settings: app.Settings{Options: map[string]string{"mode": "release"}},
	}, "gen"))
	assert.Equal(t, 2, f.runs())
}

func TestApp_Build_CommandFails(t *testing.T) {
	f := newFixture(t, `version: "1"
targets:
  broken:
    cmd: [sh, -c, "exit 3"]
`, nil)

	err := f.build(t, app.BuildOptions{}, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBuildExecutionFailed)
	assert.ErrorIs(t, err, domain.ErrCommandFailed)
}

func TestApp_Build_TargetErrors(t *testing.T) {
	tests := []struct {
		name    string
		targets []string
		want    error
	}{
		{name: "unknown target", targets: []string{"missing"}, want: domain.ErrTargetNotFound},
		{name: "no targets", targets: nil, want: domain.ErrNoTargetsSpecified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, recordingProject, map[string]string{"in.txt": "one"})

			err := f.build(t, app.BuildOptions{}, tt.targets...)
			require.ErrorIs(t, err, tt.want)
			assert.NoDirExists(t, filepath.Join(f.root, domain.KilnDirName))
		})
	}
}

func TestApp_Build_ConfigLoaderError(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockConfigLoader(ctrl)
	log := mocks.NewMockLogger(ctrl)

	loader.EXPECT().Load(".").Return(nil, domain.ErrConfigNotFound)

	a := app.New(app.Deps{Loader: loader, Logger: log})
	err := a.Build(t.Context(), []string{"gen"}, app.BuildOptions{OutputMode: "linear"})
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestApp_Clean(t *testing.T) {
	f := newFixture(t, recordingProject, map[string]string{"in.txt": "one"})
	writeFile(t, f.root, filepath.Join(domain.DefaultBlobPath(), "ab", "cdef"), "blob")
	writeFile(t, f.root, filepath.Join(domain.DefaultDBPath(), "MANIFEST"), "db")

	require.NoError(t, f.app.Clean(t.Context(), app.CleanOptions{Blobs: true}))
	assert.NoDirExists(t, filepath.Join(f.root, domain.DefaultBlobPath()))
	assert.DirExists(t, filepath.Join(f.root, domain.DefaultDBPath()))

	require.NoError(t, f.app.Clean(t.Context(), app.CleanOptions{}))
	assert.NoDirExists(t, filepath.Join(f.root, domain.KilnDirName))
	assert.Contains(t, f.logs.String(), "removed kiln state")
}

func TestApp_GraphStats(t *testing.T) {
	f := newFixture(t, recordingProject, map[string]string{"in.txt": "one"})
	require.NoError(t, f.build(t, app.BuildOptions{}, "gen"))

	var out bytes.Buffer
	require.NoError(t, f.app.GraphStats(t.Context(), &out))

	stats := out.String()
	assert.Contains(t, stats, "nodes: ")
	assert.Contains(t, stats, "  valid: ")
	assert.Contains(t, stats, "  file-change: ")
	assert.Contains(t, stats, "journal: ")
}
