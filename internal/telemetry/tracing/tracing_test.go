package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestNew_InstallsProviderAndReturnsWorkingTracer(t *testing.T) {
	tr, tp := New("pumpguard-test", "test")
	require.NotNil(t, tr)
	require.NotNil(t, tp)

	ctx, span := tr.StartSpan(context.Background(), "sample.operation", map[string]any{"k": "v"})
	require.NotNil(t, span)
	assert.NotEqual(t, context.Background(), ctx)
	span.End()

	shutdownCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tp.Shutdown(shutdownCtx)
}

func TestStart_NeverPanicsBeforeProviderInstalled(t *testing.T) {
	ctx, span := Start(context.Background(), "uninitialized.operation", map[string]any{"n": 1})
	assert.NotNil(t, span)
	assert.NotNil(t, ctx)
	span.End()
}

func TestRecordError_NoopWhenSpanNotRecording(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(context.Background(), errors.New("boom"))
	})
}

func TestExtractIDs_EmptyWhenNoActiveSpan(t *testing.T) {
	traceID, spanID := ExtractIDs(context.Background())
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}

func TestExtractIDs_ReturnsHexIDsForActiveSpan(t *testing.T) {
	tr, tp := New("pumpguard-test", "test")
	defer tp.Shutdown(context.Background())

	ctx, span := tr.StartSpan(context.Background(), "traced.operation", nil)
	defer span.End()

	traceID, spanID := ExtractIDs(ctx)
	assert.NotEmpty(t, traceID)
	assert.NotEmpty(t, spanID)

	sc := oteltrace.SpanContextFromContext(ctx)
	assert.True(t, sc.IsValid())
}
