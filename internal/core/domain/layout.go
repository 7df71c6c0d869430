package domain

import "path/filepath"

const (
	// KilnDirName is the name of the project-local state directory.
	KilnDirName = ".kiln"

	// DBDirName is the name of the embedded database directory holding the graph journal and cache.
	DBDirName = "db"

	// BlobDirName is the name of the sharded on-disk blob directory.
	BlobDirName = "blobs"

	// ConfigFileName is the name of the project configuration file.
	ConfigFileName = "kiln.yaml"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644

	// PrivateFilePerm is the default permission for private files (rw-------).
	PrivateFilePerm = 0o600
)

// DefaultKilnPath returns the default root directory for kiln state.
func DefaultKilnPath() string {
	return KilnDirName
}

// DefaultDBPath returns the default path for the embedded database.
// It joins .kiln and db.
func DefaultDBPath() string {
	return filepath.Join(KilnDirName, DBDirName)
}

// DefaultBlobPath returns the default path for the sharded blob directory.
// It joins .kiln and blobs.
func DefaultBlobPath() string {
	return filepath.Join(KilnDirName, BlobDirName)
}
