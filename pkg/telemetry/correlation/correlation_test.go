package correlation

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, cid)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))

	_, again := EnsureCorrelationID(ctx)
	assert.Equal(t, cid, again)

	assert.Equal(t, ctx, ContextWithCorrelationID(ctx, "  "))
}

func TestInjectExtractRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = ContextWithCorrelationID(ctx, "01HXCLAIMSUBMIT")

	header := http.Header{}
	Inject(ctx, propagation.HeaderCarrier(header))
	assert.Equal(t, "01HXCLAIMSUBMIT", header.Get(HeaderName))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", header.Get("traceparent"))

	restored := Extract(context.Background(), propagation.HeaderCarrier(header))
	assert.Equal(t, "01HXCLAIMSUBMIT", ExtractCorrelationID(restored))
	sc := trace.SpanContextFromContext(restored)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, traceID, sc.TraceID())
}

func TestExtractGeneratesMissingID(t *testing.T) {
	ctx := Extract(context.Background(), propagation.MapCarrier{})
	assert.NotEmpty(t, ExtractCorrelationID(ctx))
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
