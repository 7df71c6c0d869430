package ports

import (
	"context"
	"time"
)

// Renderer is the abstraction for output rendering.
// It decouples telemetry collection from presentation logic,
// allowing the same event stream to drive either a rich TUI or linear CI logs.
//
//go:generate mockgen -source=renderer.go -destination=mocks/mock_renderer.go -package=mocks
type Renderer interface {
	// Start initializes the renderer and begins its lifecycle.
	// For asynchronous renderers (like TUI), this may launch background goroutines.
	Start(ctx context.Context) error

	// Stop signals the renderer to stop accepting new events and prepare for shutdown.
	// It should flush any buffered output.
	Stop() error

	// Wait blocks until the renderer has fully terminated.
	Wait() error

	// OnBuildStart is called when a build epoch begins with the given root requests.
	OnBuildStart(epoch uint64, roots []string)

	// OnRequestStart is called when a request begins executing.
	// parentID is the spanID of the request that issued it (empty for roots).
	OnRequestStart(spanID, parentID, name string, startTime time.Time)

	// OnRequestLog is called when a request or its worker task emits output.
	OnRequestLog(spanID string, data []byte)

	// OnRequestComplete is called when a request finishes.
	// cached reports whether the result was reused without running the body.
	OnRequestComplete(spanID string, endTime time.Time, err error, cached bool)
}
