package ports

import (
	"context"
	"io"
	"time"
)

//go:generate mockgen -source=telemetry.go -destination=mocks/mock_telemetry.go -package=mocks

// Tracer is the entry point for creating spans.
type Tracer interface {
	// Start creates a new span.
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	// EmitBuild signals that a build with the given epoch and root requests has started.
	EmitBuild(ctx context.Context, epoch uint64, roots []string)
}

// Span represents a unit of work.
type Span interface {
	io.Writer
	// End completes the span.
	End()
	// RecordError records an error for the span.
	RecordError(err error)
	// SetAttribute adds a key-value pair to the span.
	SetAttribute(key string, value any)
}

// SpanConfig holds configuration for a starting span.
type SpanConfig struct {
	// RequestType is recorded as the span's request type attribute.
	RequestType string
}

// SpanOption is a functional option for configuring a span.
type SpanOption func(*SpanConfig)

// WithRequestType tags the span with the type of the request it covers.
func WithRequestType(t string) SpanOption {
	return func(c *SpanConfig) {
		c.RequestType = t
	}
}

// Metrics records engine counters.
type Metrics interface {
	// RequestFinished counts a request outcome: "executed", "cached" or "errored".
	RequestFinished(requestType, outcome string, d time.Duration)
	// CacheLookup counts a content store lookup on a backend: "hit", "miss" or "error".
	CacheLookup(backend, result string)
	// WorkerCrashed counts a worker process death.
	WorkerCrashed()
	// Invalidated counts nodes invalidated by a trigger kind.
	Invalidated(kind string, n int)
}
