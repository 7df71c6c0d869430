package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Renderer wraps the TUI Bubble Tea model as a ports.Renderer.
type Renderer struct {
	program *tea.Program
	model   *Model
	errCh   chan error
	onQuit  func()
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithProgramOptions passes options to the Bubble Tea program.
func WithProgramOptions(opts ...tea.ProgramOption) RendererOption {
	return func(r *Renderer) {
		r.program = tea.NewProgram(r.model, opts...)
	}
}

// NewRenderer creates a new TUI renderer.
func NewRenderer(model *Model, opts ...RendererOption) *Renderer {
	r := &Renderer{
		model: model,
		errCh: make(chan error, 1),
	}
	r.program = tea.NewProgram(model, tea.WithAltScreen())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOnQuit registers a function called when the program exits, for example because the user
// pressed q. It must be called before Start.
func (r *Renderer) SetOnQuit(fn func()) {
	r.onQuit = fn
}

// Start launches the TUI in a background goroutine.
func (r *Renderer) Start(_ context.Context) error {
	go func() {
		_, err := r.program.Run()
		if r.onQuit != nil {
			r.onQuit()
		}
		r.errCh <- err
	}()
	return nil
}

// Stop signals the TUI to quit.
func (r *Renderer) Stop() error {
	r.program.Quit()
	return nil
}

// Wait blocks until the TUI has terminated.
func (r *Renderer) Wait() error {
	return <-r.errCh
}

// OnBuildStart forwards the start of a build to the TUI.
func (r *Renderer) OnBuildStart(epoch uint64, roots []string) {
	r.program.Send(MsgBuildStart{Epoch: epoch, Roots: roots})
}

// OnRequestStart forwards request start events to the TUI.
func (r *Renderer) OnRequestStart(spanID, parentID, name string, startTime time.Time) {
	r.program.Send(MsgRequestStart{
		SpanID:    spanID,
		ParentID:  parentID,
		Name:      name,
		StartTime: startTime,
	})
}

// OnRequestLog forwards request output to the TUI.
func (r *Renderer) OnRequestLog(spanID string, data []byte) {
	r.program.Send(MsgRequestLog{
		SpanID: spanID,
		Data:   data,
	})
}

// OnRequestComplete forwards request completion events to the TUI.
func (r *Renderer) OnRequestComplete(spanID string, endTime time.Time, err error, cached bool) {
	r.program.Send(MsgRequestComplete{
		SpanID:  spanID,
		EndTime: endTime,
		Err:     err,
		Cached:  cached,
	})
}

// Model returns the model driven by the renderer.
func (r *Renderer) Model() *Model {
	return r.model
}
