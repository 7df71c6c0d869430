package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/kiln/internal/core/ports"
)

// LogBufferSize determines the size of the async log channel.
const LogBufferSize = 4096

// AttrRequestType is the span attribute carrying the request type.
const AttrRequestType = "kiln.request.type"

var _ ports.Tracer = (*OTelTracer)(nil)

type logChunk struct {
	spanID string
	data   []byte
}

// OTelTracer is a concrete implementation of ports.Tracer using OpenTelemetry.
// Span output is batched and streamed to the renderer, if one is set.
type OTelTracer struct {
	tracer   trace.Tracer
	renderer ports.Renderer
	mu       sync.RWMutex

	logChan  chan logChunk
	loopDone chan struct{}
	stopOnce sync.Once
}

// TracerOption configures an OTelTracer.
type TracerOption func(*tracerConfig)

type tracerConfig struct {
	provider trace.TracerProvider
}

// WithTracerProvider makes the tracer start spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(c *tracerConfig) {
		c.provider = tp
	}
}

// NewOTelTracer creates a new OTelTracer with the given instrumentation name.
func NewOTelTracer(name string, opts ...TracerOption) *OTelTracer {
	cfg := tracerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	tracer := otel.Tracer(name)
	if cfg.provider != nil {
		tracer = cfg.provider.Tracer(name)
	}

	t := &OTelTracer{
		tracer:   tracer,
		logChan:  make(chan logChunk, LogBufferSize),
		loopDone: make(chan struct{}),
	}
	go t.runLoop()
	return t
}

// NewTracerProvider returns an SDK provider that reports every span to the bridge.
func NewTracerProvider(bridge *Bridge) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(bridge))
}

func (t *OTelTracer) runLoop() {
	defer close(t.loopDone)
	for chunk := range t.logChan {
		if r := t.currentRenderer(); r != nil {
			r.OnRequestLog(chunk.spanID, chunk.data)
		}
	}
}

// Shutdown stops the background log processor after delivering the queued output.
func (t *OTelTracer) Shutdown(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.logChan) })
	select {
	case <-t.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRenderer sets the renderer that receives build starts and span output.
func (t *OTelTracer) WithRenderer(r ports.Renderer) *OTelTracer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderer = r
	return t
}

func (t *OTelTracer) currentRenderer() ports.Renderer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.renderer
}

// Start creates a new span.
func (t *OTelTracer) Start(ctx context.Context, name string, opts ...ports.SpanOption) (context.Context, ports.Span) {
	cfg := &ports.SpanConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var startOpts []trace.SpanStartOption
	if cfg.RequestType != "" {
		startOpts = append(startOpts, trace.WithAttributes(attribute.String(AttrRequestType, cfg.RequestType)))
	}
	ctx, span := t.tracer.Start(ctx, name, startOpts...)

	var batcher *LogBatcher
	if t.currentRenderer() != nil {
		spanID := span.SpanContext().SpanID().String()
		batcher = NewLogBatcher(0, 0, func(data []byte) {
			select {
			case t.logChan <- logChunk{spanID: spanID, data: data}:
			default:
				// Output is dropped rather than blocking the build.
			}
		})
	}

	return ctx, &OTelSpan{span: span, batcher: batcher}
}

// EmitBuild records the start of a build on the current span and announces it to the renderer.
func (t *OTelTracer) EmitBuild(ctx context.Context, epoch uint64, roots []string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("build_started", trace.WithAttributes(
			attribute.Int64("epoch", int64(epoch)), //nolint:gosec // epochs stay far below MaxInt64
			attribute.StringSlice("roots", roots),
		))
	}

	if r := t.currentRenderer(); r != nil {
		r.OnBuildStart(epoch, roots)
	}
}

// OTelSpan is a concrete implementation of ports.Span using OpenTelemetry.
type OTelSpan struct {
	span    trace.Span
	batcher *LogBatcher
}

// End completes the span.
func (s *OTelSpan) End() {
	if s.batcher != nil {
		_ = s.batcher.Close()
	}
	s.span.End()
}

// RecordError records an error for the span.
func (s *OTelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// SetAttribute adds a key-value pair to the span.
func (s *OTelSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case uint64:
		s.span.SetAttributes(attribute.Int64(key, int64(v))) //nolint:gosec // counters stay far below MaxInt64
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case []string:
		s.span.SetAttributes(attribute.StringSlice(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

// Write satisfies io.Writer by adding a log event to the span or writing to the batcher.
func (s *OTelSpan) Write(p []byte) (n int, err error) {
	if s.batcher != nil {
		return s.batcher.Write(p)
	}
	s.span.AddEvent("log", trace.WithAttributes(attribute.String("message", string(p))))
	return len(p), nil
}
