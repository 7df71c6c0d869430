package cas

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/kiln/internal/core/domain"
)

// DirBackend stores one file per entry at root/<key[0:2]>/<key[2:]>.
type DirBackend struct {
	root string
}

// NewDirBackend returns a local backend rooted at root. The directory is created on first write.
func NewDirBackend(root string) *DirBackend {
	return &DirBackend{root: root}
}

// Name implements ports.CacheBackend.
func (d *DirBackend) Name() string { return "dir" }

// Writable implements ports.CacheBackend.
func (d *DirBackend) Writable() bool { return true }

// Get implements ports.CacheBackend.
func (d *DirBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	//nolint:gosec // Path is built from the store root and a sharded content key
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ioError(err, d.Name(), key)
	}
	return data, true, nil
}

// Set implements ports.CacheBackend. The entry is written to a temporary file and renamed into
// place, so concurrent writers of the same key never expose a partial file.
func (d *DirBackend) Set(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filename := d.path(key)
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return ioError(err, d.Name(), key)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ioError(err, d.Name(), key)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return ioError(err, d.Name(), key)
	}
	if err := tmp.Close(); err != nil {
		return ioError(err, d.Name(), key)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return ioError(err, d.Name(), key)
	}
	return nil
}

// Has implements ports.CacheBackend.
func (d *DirBackend) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ioError(err, d.Name(), key)
	}
	return true, nil
}

func (d *DirBackend) path(key string) string {
	shard, rest := domain.ShardKey(key)
	return filepath.Join(d.root, shard, rest)
}
