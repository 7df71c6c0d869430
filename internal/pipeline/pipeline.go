// Package pipeline defines the requests a project build is made of. Targets resolve their inputs
// through glob, resolve and file requests, run their dependencies, and execute their command on
// the worker pool behind an action cache.
package pipeline

import (
	"bytes"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// OptionMode is the build option every target re-runs on.
const OptionMode = "mode"

// Pipeline creates the requests of one project.
type Pipeline struct {
	project *domain.Project
	glob    func(pattern string) ([]string, error)
	fanout  int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGlob replaces the file system glob, which defaults to doublestar.FilepathGlob over files.
func WithGlob(fn func(pattern string) ([]string, error)) Option {
	return func(p *Pipeline) { p.glob = fn }
}

// WithFanout bounds the subrequests a single request runs at once.
func WithFanout(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.fanout = n
		}
	}
}

// New returns a pipeline for project.
func New(project *domain.Project, opts ...Option) *Pipeline {
	p := &Pipeline{
		project: project,
		fanout:  runtime.NumCPU(),
		glob: func(pattern string) ([]string, error) {
			return doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project returns the project the pipeline builds.
func (p *Pipeline) Project() *domain.Project {
	return p.project
}

// ConfigPath is the project file every target and build re-runs on.
func (p *Pipeline) ConfigPath() string {
	return filepath.Join(p.project.Root, domain.ConfigFileName)
}

// rel shortens path for display and for portable cache keys.
func (p *Pipeline) rel(path string) string {
	r, err := filepath.Rel(p.project.Root, path)
	if err != nil || strings.HasPrefix(r, "..") {
		return path
	}
	return filepath.ToSlash(r)
}

// Inputs maps input paths, relative to the project root, to their fingerprints.
type Inputs map[string]string

func encodeSorted(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, zerr.Wrap(err, "failed to encode request result")
	}
	return buf.Bytes(), nil
}

// DecodeInputs decodes the result of a glob or resolve request.
func DecodeInputs(data []byte) (Inputs, error) {
	var in Inputs
	if err := msgpack.Unmarshal(data, &in); err != nil {
		return nil, zerr.Wrap(err, "failed to decode inputs")
	}
	return in, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func absolute(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
