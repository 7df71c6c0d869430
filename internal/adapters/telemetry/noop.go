package telemetry

import (
	"context"
	"time"

	"go.trai.ch/kiln/internal/core/ports"
)

var (
	_ ports.Tracer  = (*NoOpTracer)(nil)
	_ ports.Metrics = NoOpMetrics{}
)

// NoOpTracer is a no-op implementation of ports.Tracer.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

// Start creates a new no-op span.
func (t *NoOpTracer) Start(ctx context.Context, _ string, _ ...ports.SpanOption) (context.Context, ports.Span) {
	return ctx, &NoOpSpan{}
}

// EmitBuild does nothing.
func (t *NoOpTracer) EmitBuild(context.Context, uint64, []string) {}

// NoOpSpan is a no-op implementation of ports.Span.
type NoOpSpan struct{}

// End does nothing.
func (s *NoOpSpan) End() {}

// RecordError does nothing.
func (s *NoOpSpan) RecordError(error) {}

// SetAttribute does nothing.
func (s *NoOpSpan) SetAttribute(_ string, _ any) {}

// Write does nothing and returns the length of p.
func (s *NoOpSpan) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// NoOpMetrics discards every measurement.
type NoOpMetrics struct{}

func (NoOpMetrics) RequestFinished(string, string, time.Duration) {}
func (NoOpMetrics) CacheLookup(string, string)                    {}
func (NoOpMetrics) WorkerCrashed()                                {}
func (NoOpMetrics) Invalidated(string, int)                       {}
