package config

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem is the read-only view of the disk the loader searches for kiln.yaml.
type FileSystem interface {
	Stat(path string) (fs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

type osFS struct{}

func (osFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (osFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(filepath.Clean(path)) }

// Mount exposes fsys as a FileSystem whose root sits at dir, so absolute paths below dir resolve
// into fsys. Lookups outside dir fail with fs.ErrNotExist.
func Mount(dir string, fsys fs.FS) FileSystem {
	return mounted{dir: filepath.Clean(dir), fsys: fsys}
}

type mounted struct {
	dir  string
	fsys fs.FS
}

func (m mounted) Stat(path string) (fs.FileInfo, error) {
	return fs.Stat(m.fsys, m.name(path))
}

func (m mounted) ReadFile(path string) ([]byte, error) {
	return fs.ReadFile(m.fsys, m.name(path))
}

// name turns path into an fs.FS name. Escaping paths become "../…", which fs.ValidPath rejects.
func (m mounted) name(path string) string {
	rel, err := filepath.Rel(m.dir, filepath.Clean(path))
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
