// Package tracing instruments inbound HTTP requests with OpenTelemetry spans.
package tracing

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/claimwise/internal/actorcontext"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware starts a server span per request. The span is named after
// the route pattern once routing has matched.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("claimwise/http")
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
			if member, err := baggage.NewMember("correlation_id", cid); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("correlation_id", cid))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)
		if id := c.Param("id"); id != "" && strings.HasPrefix(route, "/v1/claims/") {
			span.SetAttributes(attribute.String("claim.id", id))
		}
		if actor, ok := actorcontext.ActorFromContext(c.Request.Context()); ok && actor.Role != "" {
			span.SetAttributes(attribute.String("actor.role", actor.Role))
		}

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				// Error text may quote claim content; only its class is recorded.
				span.RecordError(errors.New(errorClass(lastErr.Err)))
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

func errorClass(err error) string {
	if err == nil {
		return "unknown"
	}
	msg := err.Error()
	if i := strings.IndexAny(msg, ": "); i > 0 {
		return msg[:i]
	}
	return msg
}
