package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestWithContext(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithContext(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContext_NotFound(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	logger.Info("does not panic")
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), LoggerKey, "not a logger")
	assert.NotNil(t, FromContext(ctx))
}

func TestContextIDs(t *testing.T) {
	base, logs := newObserved()
	ctx := context.Background()

	ctx, _ = WithRequestID(ctx, base, "req-1")
	ctx, _ = WithSourceID(ctx, FromContext(ctx), "tiktok_shop")
	ctx, enriched := WithBatchID(ctx, FromContext(ctx), "batch-9")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "tiktok_shop", GetSourceID(ctx))
	assert.Equal(t, "batch-9", GetBatchID(ctx))

	enriched.Info("loaded chunk")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "tiktok_shop", fields["source_id"])
	assert.Equal(t, "batch-9", fields["batch_id"])
}

func TestContextIDs_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetSourceID(ctx))
	assert.Empty(t, GetBatchID(ctx))
	assert.Empty(t, GetTraceID(ctx))
}

func TestGetTraceID_WithSpan(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", GetTraceID(ctx))
}

func TestContextLogger_EnrichesEntries(t *testing.T) {
	base, logs := newObserved()
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))
	ctx = context.WithValue(ctx, BatchIDKey, "batch-1")
	ctx = context.WithValue(ctx, SourceIDKey, "misa_customers")
	ctx = WithContext(ctx, base)

	L(ctx).With(zap.Int("chunk", 2)).Warn("retrying")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	assert.Equal(t, "batch-1", fields["batch_id"])
	assert.Equal(t, "misa_customers", fields["source_id"])
	assert.Equal(t, int64(2), fields["chunk"])
}

func TestContextLogger_LevelsAndZap(t *testing.T) {
	base, logs := newObserved()
	cl := WithLogger(context.Background(), base)

	cl.Debug("d")
	cl.Info("i")
	cl.Warn("w")
	cl.Error("e")
	cl.Zap().Info("z")

	assert.Equal(t, 5, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)
	assert.NotPanics(t, func() { cl.Info("nothing") })
}
