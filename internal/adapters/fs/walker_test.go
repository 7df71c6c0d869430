package fs_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/fs"
)

// tree creates the given slash-separated paths under root. Paths ending in "/" are directories.
func tree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if p[len(p)-1] == '/' {
			require.NoError(t, os.MkdirAll(full, 0o750))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o600))
	}
}

func rel(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(r))
	}
	slices.Sort(out)
	return out
}

func TestWalker_WalkFiles(t *testing.T) {
	tests := []struct {
		name    string
		paths   []string
		ignores []string
		want    []string
	}{
		{
			name:  "nested files",
			paths: []string{"index.js", "src/app.js", "src/lib/util.js"},
			want:  []string{"index.js", "src/app.js", "src/lib/util.js"},
		},
		{
			name: "state and vendor directories are skipped",
			paths: []string{
				".git/HEAD", ".jj/repo/store", ".kiln/db/MANIFEST", "node_modules/react/index.js",
				"src/main.ts",
			},
			want: []string{"src/main.ts"},
		},
		{
			name:    "ignores match files and directories by base name",
			paths:   []string{"main.go", "main_test.go", "dist/bundle.js", "pkg/dist/x.js"},
			ignores: []string{"*_test.go", "dist"},
			want:    []string{"main.go"},
		},
		{
			name:  "a file named like a state directory is kept",
			paths: []string{".kiln"},
			want:  []string{".kiln"},
		},
		{
			name:  "empty tree",
			paths: []string{"empty/"},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tree(t, root, tt.paths...)

			got := slices.Collect(fs.NewWalker().WalkFiles(root, tt.ignores))
			assert.Equal(t, tt.want, rel(t, root, got))
		})
	}
}

func TestWalker_WalkDirs(t *testing.T) {
	root := t.TempDir()
	tree(t, root, "a/b/", "a/file.txt", "node_modules/pkg/", ".kiln/db/")

	got := slices.Collect(fs.NewWalker().WalkDirs(root, nil))
	assert.Equal(t, []string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b")}, got)
}

func TestWalker_StopsEarly(t *testing.T) {
	root := t.TempDir()
	tree(t, root, "a.txt", "b.txt", "c.txt")

	var seen int
	for range fs.NewWalker().WalkFiles(root, nil) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestWalker_Skip(t *testing.T) {
	w := fs.NewWalker()

	assert.True(t, w.Skip(".git", true, nil))
	assert.False(t, w.Skip(".git", false, nil))
	assert.True(t, w.Skip("out.log", false, []string{"*.log"}))
	assert.False(t, w.Skip("out.txt", false, []string{"*.log"}))
}
