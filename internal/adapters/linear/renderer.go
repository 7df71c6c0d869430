// Package linear provides a synchronous, line-buffered renderer for CI environments.
package linear

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/muesli/termenv"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/ui/output"
	"go.trai.ch/kiln/internal/ui/style"
)

// palette holds the colors request prefixes are drawn from.
var palette = []termenv.ANSIColor{
	termenv.ANSICyan,
	termenv.ANSIMagenta,
	termenv.ANSIBlue,
	termenv.ANSIYellow,
	termenv.ANSIBrightCyan,
	termenv.ANSIBrightMagenta,
	termenv.ANSIBrightBlue,
}

// Renderer implements ports.Renderer for CI/non-interactive environments.
// It outputs linear, chronological logs with request name prefixes.
type Renderer struct {
	stdout io.Writer
	stderr io.Writer
	output *termenv.Output
	quiet  []string

	mu       sync.Mutex
	requests map[string]*requestState // spanID -> request state
}

type requestState struct {
	name      string
	startTime time.Time
	quiet     bool
	buf       bytes.Buffer
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithQuietPrefixes hides the start and success lines of requests whose name starts with one
// of prefixes. Their output and failures are still printed.
func WithQuietPrefixes(prefixes ...string) Option {
	return func(r *Renderer) {
		r.quiet = append(r.quiet, prefixes...)
	}
}

// QuietPrefixes are the display name prefixes of bookkeeping requests.
func QuietPrefixes() []string {
	prefixes := make([]string, 0, len(domain.BookkeepingRequestTypes))
	for _, typ := range domain.BookkeepingRequestTypes {
		prefixes = append(prefixes, typ+":")
	}
	return prefixes
}

// NewRenderer creates a new Renderer. Nil writers default to os.Stdout and os.Stderr.
func NewRenderer(stdout, stderr io.Writer, opts ...Option) *Renderer {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	r := &Renderer{
		stdout:   stdout,
		stderr:   stderr,
		output:   output.New(stderr, output.ANSI),
		requests: make(map[string]*requestState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start is a no-op for linear renderer (synchronous).
func (r *Renderer) Start(_ context.Context) error {
	return nil
}

// Stop flushes all remaining buffers.
func (r *Renderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, req := range r.requests {
		r.flushBufferLocked(req)
	}
	return nil
}

// Wait is a no-op for linear renderer (synchronous).
func (r *Renderer) Wait() error {
	return nil
}

// OnBuildStart prints a build header.
func (r *Renderer) OnBuildStart(epoch uint64, roots []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := r.output.String(fmt.Sprintf("Build %d", epoch)).Bold().String()
	_, _ = fmt.Fprintf(r.stderr, "%s: %s\n", header, strings.Join(roots, ", "))
}

// OnRequestStart prints a request start message.
func (r *Renderer) OnRequestStart(spanID, _ /* parentID */, name string, startTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req := &requestState{
		name:      name,
		startTime: startTime,
		quiet:     r.isQuiet(name),
	}
	r.requests[spanID] = req

	if !req.quiet {
		_, _ = fmt.Fprintf(r.stderr, "%s Starting...\n", r.prefix(name))
	}
}

// OnRequestLog buffers log data and prints complete lines with the request prefix.
func (r *Renderer) OnRequestLog(spanID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[spanID]
	if !ok {
		return
	}

	req.buf.Write(data)
	for {
		i := bytes.IndexByte(req.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := req.buf.Next(i + 1)
		r.printLineLocked(req.name, line)
	}
}

// OnRequestComplete flushes remaining output and prints the completion status.
func (r *Renderer) OnRequestComplete(spanID string, endTime time.Time, err error, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[spanID]
	if !ok {
		return
	}
	delete(r.requests, spanID)
	r.flushBufferLocked(req)

	duration := endTime.Sub(req.startTime).Round(time.Millisecond)
	prefix := r.prefix(req.name)

	switch {
	case err != nil:
		symbol := r.output.String(style.Cross).Foreground(termenv.ANSIRed).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Failed after %v: %v\n", prefix, symbol, duration, err)
	case req.quiet:
	case cached:
		symbol := r.output.String(style.Cached).Foreground(termenv.ANSIYellow).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Cached\n", prefix, symbol)
	default:
		symbol := r.output.String(style.Check).Foreground(termenv.ANSIGreen).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Completed in %v\n", prefix, symbol, duration)
	}
}

func (r *Renderer) isQuiet(name string) bool {
	for _, p := range r.quiet {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// prefix returns the bracketed request name in a color derived from the name.
func (r *Renderer) prefix(name string) string {
	color := palette[xxhash.Sum64String(name)%uint64(len(palette))]
	return r.output.String(fmt.Sprintf("[%s]", name)).Foreground(color).String()
}

// flushBufferLocked prints the remaining partial line of a request.
// Must be called with r.mu held.
func (r *Renderer) flushBufferLocked(req *requestState) {
	if req.buf.Len() > 0 {
		r.printLineLocked(req.name, req.buf.Bytes())
		req.buf.Reset()
	}
}

// printLineLocked prints a line with the request name prefix.
// Must be called with r.mu held.
func (r *Renderer) printLineLocked(name string, line []byte) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))

	if len(line) == 0 {
		return
	}

	_, _ = fmt.Fprintf(r.stdout, "[%s] %s\n", name, string(line))
}
