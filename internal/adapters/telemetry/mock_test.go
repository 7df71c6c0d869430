package telemetry_test

import (
	"context"
	"sync"
	"time"
)

// recordingRenderer is a test double for ports.Renderer that counts calls.
type recordingRenderer struct {
	mu        sync.Mutex
	builds    []uint64
	roots     [][]string
	starts    []string
	logs      [][]byte
	completes []completion
}

type completion struct {
	spanID string
	err    error
	cached bool
}

func (r *recordingRenderer) Start(context.Context) error { return nil }
func (r *recordingRenderer) Stop() error                 { return nil }
func (r *recordingRenderer) Wait() error                 { return nil }

func (r *recordingRenderer) OnBuildStart(epoch uint64, roots []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds = append(r.builds, epoch)
	r.roots = append(r.roots, roots)
}

func (r *recordingRenderer) OnRequestStart(_, _, name string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, name)
}

func (r *recordingRenderer) OnRequestLog(_ string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, data)
}

func (r *recordingRenderer) OnRequestComplete(spanID string, _ time.Time, err error, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes = append(r.completes, completion{spanID: spanID, err: err, cached: cached})
}

func (r *recordingRenderer) logged() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, l := range r.logs {
		out = append(out, l...)
	}
	return string(out)
}

func (r *recordingRenderer) completions() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.completes...)
}
