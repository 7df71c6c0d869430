package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func TestBridge_OnStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRenderer := mocks.NewMockRenderer(ctrl)
	bridge := telemetry.NewBridge(mockRenderer)

	tp := sdktrace.NewTracerProvider()
	parentCtx, parent := tp.Tracer("test").Start(context.Background(), "parent")
	defer parent.End()
	_, span := tp.Tracer("test").Start(parentCtx, "child")
	defer span.End()

	mockRenderer.EXPECT().OnRequestStart(
		span.SpanContext().SpanID().String(),
		parent.SpanContext().SpanID().String(),
		"child",
		gomock.Any(),
	).Times(1)

	rwSpan, ok := span.(sdktrace.ReadWriteSpan)
	require.True(t, ok)
	bridge.OnStart(parentCtx, rwSpan)
}

func TestBridge_NilRenderer(t *testing.T) {
	bridge := telemetry.NewBridge(nil)

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "test-span")
	span.End()

	rwSpan, ok := span.(sdktrace.ReadWriteSpan)
	require.True(t, ok)
	assert.NotPanics(t, func() {
		bridge.OnStart(ctx, rwSpan)
		bridge.OnEnd(rwSpan)
	})
	require.NoError(t, bridge.ForceFlush(ctx))
	require.NoError(t, bridge.Shutdown(ctx))
}

func TestBridge_OnEnd(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(s interface{ SetStatus(codes.Code, string) })
		wantErr string
	}{
		{
			name:  "success",
			setup: func(interface{ SetStatus(codes.Code, string) }) {},
		},
		{
			name: "error with description",
			setup: func(s interface{ SetStatus(codes.Code, string) }) {
				s.SetStatus(codes.Error, "compile failed")
			},
			wantErr: "compile failed",
		},
		{
			name: "error without description",
			setup: func(s interface{ SetStatus(codes.Code, string) }) {
				s.SetStatus(codes.Error, "")
			},
			wantErr: "request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mockRenderer := mocks.NewMockRenderer(ctrl)
			bridge := telemetry.NewBridge(mockRenderer)

			tp := sdktrace.NewTracerProvider()
			_, span := tp.Tracer("test").Start(context.Background(), "test-span")
			tt.setup(span)
			span.End()

			mockRenderer.EXPECT().OnRequestComplete(
				span.SpanContext().SpanID().String(), gomock.Any(), gomock.Any(), false,
			).DoAndReturn(func(_ string, _ time.Time, err error, _ bool) {
				if tt.wantErr == "" {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
			})

			roSpan, ok := span.(sdktrace.ReadOnlySpan)
			require.True(t, ok)
			bridge.OnEnd(roSpan)
		})
	}
}

func TestBridge_OnEndIgnoresUnrelatedErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRenderer := mocks.NewMockRenderer(ctrl)
	bridge := telemetry.NewBridge(mockRenderer)

	tp := sdktrace.NewTracerProvider()
	_, span := tp.Tracer("test").Start(context.Background(), "test-span")
	span.RecordError(errors.New("recorded but status unset"))
	span.End()

	mockRenderer.EXPECT().OnRequestComplete(gomock.Any(), gomock.Any(), nil, false)

	roSpan, ok := span.(sdktrace.ReadOnlySpan)
	require.True(t, ok)
	bridge.OnEnd(roSpan)
}

func TestBridge_RootAndCachedSpans(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRenderer := mocks.NewMockRenderer(ctrl)
	bridge := telemetry.NewBridge(mockRenderer)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(bridge))
	id := make(chan string, 1)
	mockRenderer.EXPECT().OnRequestStart(gomock.Any(), "", "target:app", gomock.Any()).
		Do(func(spanID, _, _ string, _ time.Time) { id <- spanID })

	_, span := tp.Tracer("test").Start(context.Background(), "target:app")
	mockRenderer.EXPECT().OnRequestComplete(span.SpanContext().SpanID().String(), gomock.Any(), nil, true)
	span.SetAttributes(attribute.Bool(domain.AttrCached, true))
	span.End()

	assert.Equal(t, span.SpanContext().SpanID().String(), <-id)
	require.NoError(t, tp.Shutdown(context.Background()))
}
