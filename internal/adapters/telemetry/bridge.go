package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
)

// errRequestFailed stands in for a failed span that carries no description.
var errRequestFailed = errors.New("request failed")

// Bridge is a span processor that replays request spans on a Renderer. Spans are identified by
// their span id and nested under the span that was current when they started.
type Bridge struct {
	renderer ports.Renderer
}

var _ sdktrace.SpanProcessor = (*Bridge)(nil)

// NewBridge returns a Bridge feeding renderer. A nil renderer drops every span.
func NewBridge(renderer ports.Renderer) *Bridge {
	return &Bridge{renderer: renderer}
}

// OnStart reports a started span.
func (b *Bridge) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	if b.renderer == nil || !s.SpanContext().IsValid() {
		return
	}
	b.renderer.OnRequestStart(s.SpanContext().SpanID().String(), parentID(parent), s.Name(), s.StartTime())
}

// OnEnd reports a finished span with its outcome.
func (b *Bridge) OnEnd(s sdktrace.ReadOnlySpan) {
	if b.renderer == nil || !s.SpanContext().IsValid() {
		return
	}
	b.renderer.OnRequestComplete(s.SpanContext().SpanID().String(), s.EndTime(), spanErr(s), cached(s))
}

// ForceFlush is a no-op; the bridge buffers nothing.
func (b *Bridge) ForceFlush(context.Context) error { return nil }

// Shutdown is a no-op.
func (b *Bridge) Shutdown(context.Context) error { return nil }

func parentID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

func spanErr(s sdktrace.ReadOnlySpan) error {
	st := s.Status()
	switch {
	case st.Code != codes.Error:
		return nil
	case st.Description == "":
		return errRequestFailed
	}
	return errors.New(st.Description)
}

func cached(s sdktrace.ReadOnlySpan) bool {
	for _, kv := range s.Attributes() {
		if kv.Key == domain.AttrCached {
			return kv.Value.AsBool()
		}
	}
	return false
}
