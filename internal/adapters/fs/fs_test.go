package fs_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestFingerprinter_Fingerprint(t *testing.T) {
	t.Run("Content Change", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(file, []byte("content1"), domain.PrivateFilePerm))

		fp := fs.NewFingerprinter()
		sum1, err := fp.Fingerprint(file)
		require.NoError(t, err)
		require.Len(t, sum1, 16)

		require.NoError(t, os.WriteFile(file, []byte("content2"), domain.PrivateFilePerm))
		sum2, err := fp.Fingerprint(file)
		require.NoError(t, err)

		assert.NotEqual(t, sum1, sum2, "Fingerprint should change when content changes")
	})

	t.Run("Metadata Change", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(file, []byte("content"), domain.PrivateFilePerm))

		fp := fs.NewFingerprinter()
		sum1, err := fp.Fingerprint(file)
		require.NoError(t, err)

		futureTime := time.Now().Add(1 * time.Hour)
		require.NoError(t, os.Chtimes(file, futureTime, futureTime))
		require.NoError(t, os.WriteFile(file, []byte("content"), domain.PrivateFilePerm))

		sum2, err := fp.Fingerprint(file)
		require.NoError(t, err)

		assert.Equal(t, sum1, sum2, "Fingerprint should NOT change on a touch or identical rewrite")
	})

	t.Run("Missing File", func(t *testing.T) {
		sum, err := fs.NewFingerprinter().Fingerprint(filepath.Join(t.TempDir(), "nope.txt"))
		require.NoError(t, err)
		assert.Empty(t, sum)
	})

	t.Run("Directory", func(t *testing.T) {
		sum, err := fs.NewFingerprinter().Fingerprint(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, sum)
	})
}

func TestCombine(t *testing.T) {
	a := fs.Combine(map[string]string{"a.txt": "1", "b.txt": "2"})
	b := fs.Combine(map[string]string{"b.txt": "2", "a.txt": "1"})
	assert.Equal(t, a, b, "Combine should be independent of map order")

	assert.NotEqual(t, a, fs.Combine(map[string]string{"a.txt": "1", "b.txt": "3"}))
	assert.NotEqual(t, a, fs.Combine(map[string]string{"a.txt": "12", "b.txt": ""}))
}
