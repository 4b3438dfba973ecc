package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func captureLog(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()

	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(ctx, "test message", "key", "value")

	var entry map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	entry := captureLog(t, context.Background())

	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestTraceHandlerWithValidSpan(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	entry := captureLog(t, ctx)

	assert.Equal(t, traceID.String(), entry["trace_id"])
	assert.Equal(t, spanID.String(), entry["span_id"])
	assert.Equal(t, "test message", entry["msg"])
}

func TestTraceHandlerDelegatesEnabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	logger.Info("test")
	assert.Contains(t, buf.String(), `"component":"engine"`)

	buf.Reset()

	logger = slog.New(h.WithGroup("download"))
	logger.Info("test", "id", "abc")
	assert.Contains(t, buf.String(), `"download"`)
}

func TestNewTraceHandlerNilPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
