package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc")
	ctx, cid := EnsureCorrelationID(ctx)
	require.Equal(t, "abc", cid)
	require.Equal(t, "abc", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, cid)
	require.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestInjectTraceIntoMetadata(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	span := trace.SpanFromContext(ctx)

	meta := InjectTraceIntoMetadata(map[string]any{"correlation_id": "keep"}, span)
	require.Equal(t, "keep", meta["correlation_id"])
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", meta["trace_id"])
	require.Equal(t, "00f067aa0ba902b7", meta["span_id"])
	require.NotEmpty(t, meta["published_at"])
}
