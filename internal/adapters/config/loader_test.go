package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

func createFile(t *testing.T, dir, name, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte(content), domain.PrivateFilePerm)
	require.NoError(t, err)
}

func newLoader(t *testing.T) *config.Loader {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Warn(gomock.Any()).AnyTimes()
	return config.NewLoader(mockLogger)
}

func TestLoader_Load_FullProject(t *testing.T) {
	root := t.TempDir()
	createFile(t, root, domain.ConfigFileName, `
version: "1"
workers: 4
gc: true
options:
  mode: release
cache:
  local: dir
  remote:
    url: https://cache.example.com/kiln
    writable: true
    timeout: 5s
targets:
  lib:
    inputs: ["src/**/*.c", "include/a.h", "include/a.h"]
    cmd: ["cc", "-c", "src/a.c"]
    env: ["CC", "CFLAGS"]
  app:
    inputs: ["main.c"]
    cmd: ["cc", "main.c"]
    dependsOn: ["lib"]
    workingDir: app
    always: true
  stamp:
    cmd: ["date"]
    volatile: true
`)

	p, err := newLoader(t).Load(root)
	require.NoError(t, err)

	assert.Equal(t, root, p.Root)
	assert.Equal(t, 4, p.Workers)
	assert.True(t, p.GC)
	assert.Equal(t, map[string]string{"mode": "release"}, p.Options)

	assert.Equal(t, "dir", p.Cache.Local)
	require.NotNil(t, p.Cache.Remote)
	assert.Equal(t, "https://cache.example.com/kiln", p.Cache.Remote.URL)
	assert.True(t, p.Cache.Remote.Writable)
	assert.Equal(t, 5*time.Second, p.Cache.Remote.Timeout)
	assert.Nil(t, p.Cache.GCS)

	require.Len(t, p.Targets, 3)
	lib := p.Targets["lib"]
	assert.Equal(t, "lib", lib.Name)
	assert.Equal(t, []string{"include/a.h", "src/**/*.c"}, lib.Inputs)
	assert.Equal(t, []string{"CC", "CFLAGS"}, lib.Env)
	assert.Equal(t, root, lib.WorkingDir)

	app := p.Targets["app"]
	assert.Equal(t, []string{"lib"}, app.DependsOn)
	assert.Equal(t, filepath.Join(root, "app"), app.WorkingDir)
	assert.True(t, app.Always)
	assert.True(t, p.Targets["stamp"].Volatile)
}

func TestLoader_Load_WalksUp(t *testing.T) {
	root := t.TempDir()
	createFile(t, root, domain.ConfigFileName, "version: \"1\"\n")
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, domain.DirPerm))

	p, err := newLoader(t).Load(deep)
	require.NoError(t, err)
	assert.Equal(t, root, p.Root)
	assert.Empty(t, p.Targets)
	assert.NotNil(t, p.Options)
}

func TestLoader_Load_NotFound(t *testing.T) {
	_, err := newLoader(t).Load(t.TempDir())
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoader_Load_EmptyFile(t *testing.T) {
	root := t.TempDir()
	createFile(t, root, domain.ConfigFileName, "")

	p, err := newLoader(t).Load(root)
	require.NoError(t, err)
	assert.Empty(t, p.Targets)
}

func TestLoader_Load_MissingVersionWarns(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Warn(gomock.Any()).Times(1)

	root := t.TempDir()
	createFile(t, root, domain.ConfigFileName, "workers: 2\n")

	_, err := config.NewLoader(mockLogger).Load(root)
	require.NoError(t, err)
}

func TestLoader_Load_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "Malformed YAML",
			content: "targets: [",
			wantErr: domain.ErrConfigParseFailed,
		},
		{
			name:    "Unknown Field",
			content: "version: \"1\"\ntasks: {}\n",
			wantErr: domain.ErrConfigParseFailed,
		},
		{
			name:    "Unsupported Version",
			content: "version: \"2\"\n",
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "Negative Workers",
			content: "workers: -1\n",
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "Unknown Local Cache",
			content: "cache:\n  local: redis\n",
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "Remote Without URL",
			content: "cache:\n  remote:\n    writable: true\n",
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "Remote And GCS",
			content: "cache:\n  remote:\n    url: http://localhost:1\n  gcs:\n    bucket: b\n",
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "Bad Env Name",
			content: "targets:\n  a:\n    cmd: [\"true\"]\n    env: [\"A=B\"]\n",
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "Empty Cmd Element",
			content: "targets:\n  a:\n    cmd: [\"\"]\n",
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "Missing Dependency",
			content: "targets:\n  a:\n    cmd: [\"true\"]\n    dependsOn: [b]\n",
			wantErr: domain.ErrMissingDependency,
		},
		{
			name:    "Reserved Target Name",
			content: "targets:\n  all:\n    cmd: [\"true\"]\n",
			wantErr: domain.ErrInvalidTargetName,
		},
		{
			name:    "Colon In Target Name",
			content: "targets:\n  \"pkg:a\":\n    cmd: [\"true\"]\n",
			wantErr: domain.ErrInvalidTargetName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			createFile(t, root, domain.ConfigFileName, tt.content)

			_, err := newLoader(t).Load(root)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoader_Load_ValidationMetadata(t *testing.T) {
	root := t.TempDir()
	createFile(t, root, domain.ConfigFileName, "workers: -3\n")

	_, err := newLoader(t).Load(root)
	require.Error(t, err)

	var zErr *zerr.Error
	require.ErrorAs(t, err, &zErr)
	assert.Equal(t, "gte=0", zErr.Metadata()["workers"])
	assert.Equal(t, filepath.Join(root, domain.ConfigFileName), zErr.Metadata()["file"])
}

func TestLoader_Load_MapFS(t *testing.T) {
	fsys := fstest.MapFS{
		"repo/kiln.yaml": &fstest.MapFile{Data: []byte(`
version: "1"
targets:
  gen:
    cmd: ["go", "generate"]
`)},
		"repo/sub/.keep": &fstest.MapFile{},
	}
	loader := config.NewLoader(nil, config.WithFileSystem(config.Mount("/", fsys)))

	p, err := loader.Load("/repo/sub")
	require.NoError(t, err)
	assert.Equal(t, "/repo", p.Root)
	require.Contains(t, p.Targets, "gen")
	assert.Equal(t, []string{"go", "generate"}, p.Targets["gen"].Cmd)
}

func TestMount_OutsideDirIsNotFound(t *testing.T) {
	fsys := fstest.MapFS{
		"kiln.yaml": &fstest.MapFile{Data: []byte("targets:\n  gen:\n    cmd: [\"true\"]\n")},
	}
	loader := config.NewLoader(nil, config.WithFileSystem(config.Mount("/work", fsys)))

	p, err := loader.Load("/work/pkg/sub")
	require.NoError(t, err)
	assert.Equal(t, "/work", p.Root)

	_, err = loader.Load("/elsewhere")
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
}
