// Package correlation carries one id through an HTTP request, the
// clearinghouse hand-off and the acknowledgment that later settles it.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderName carries the correlation ID across HTTP and AMQP hops.
const HeaderName = "X-Correlation-ID"

type correlationKey struct{}

func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets id on ctx. A blank id leaves ctx unchanged.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID generates a ULID when ctx has no correlation id.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if cid := ExtractCorrelationID(ctx); cid != "" {
		return ctx, cid
	}
	cid := ulid.Make().String()
	return ContextWithCorrelationID(ctx, cid), cid
}

// Inject writes the correlation id and the propagated trace context into
// carrier.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if cid := ExtractCorrelationID(ctx); cid != "" {
		carrier.Set(HeaderName, cid)
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// Extract restores what Inject wrote, generating a correlation id when the
// carrier has none.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	ctx = ContextWithCorrelationID(ctx, carrier.Get(HeaderName))
	ctx, _ = EnsureCorrelationID(ctx)
	return ctx
}
