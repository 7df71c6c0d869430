package domain

import "time"

// Project is a loaded kiln.yaml.
type Project struct {
	// Root is the absolute directory containing kiln.yaml.
	Root    string
	Workers int
	// GC enables collection of graph nodes unreachable from the build's roots.
	GC      bool
	Options map[string]string
	Cache   CacheConfig
	Targets map[string]*Target
}

// CacheConfig configures the content store tiers.
type CacheConfig struct {
	// Local selects the local backend: "badger" (default) or "dir".
	Local  string
	Remote *RemoteCacheConfig
	GCS    *GCSCacheConfig
}

// RemoteCacheConfig configures an HTTP remote cache.
type RemoteCacheConfig struct {
	URL           string
	Writable      bool
	Authoritative bool
	Timeout       time.Duration
}

// GCSCacheConfig configures a Google Cloud Storage remote cache.
type GCSCacheConfig struct {
	Bucket string
	Prefix string
	// Credentials is a service account key file. Empty uses application default credentials.
	Credentials   string
	Writable      bool
	Authoritative bool
}

// Target is a named unit of work in a project.
type Target struct {
	Name string
	// Inputs are literal paths or doublestar patterns, relative to WorkingDir.
	Inputs     []string
	Cmd        []string
	Env        []string
	DependsOn  []string
	Always     bool
	Volatile   bool
	WorkingDir string
}

// ExecSpec is the payload of an exec worker task.
type ExecSpec struct {
	Cmd        []string          `msgpack:"cmd"`
	Env        map[string]string `msgpack:"env,omitempty"`
	WorkingDir string            `msgpack:"dir,omitempty"`
}

// ExecResult is the result of an exec worker task.
type ExecResult struct {
	Output   []byte `msgpack:"out,omitempty"`
	ExitCode int    `msgpack:"code"`
}
