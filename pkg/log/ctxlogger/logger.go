// Package ctxlogger derives request-scoped zap loggers from a context.
package ctxlogger

import (
	"context"

	"github.com/smallbiznis/claimwise/internal/actorcontext"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type claimKey struct{}

// ContextWithClaimID annotates the context with the claim being processed.
func ContextWithClaimID(ctx context.Context, claimID string) context.Context {
	if claimID == "" {
		return ctx
	}
	return context.WithValue(ctx, claimKey{}, claimID)
}

// ClaimIDFromContext returns the claim set by ContextWithClaimID.
func ClaimIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(claimKey{}).(string)
	return id
}

// FromContext enriches the global logger.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds the correlation, trace, actor and claim identifiers found
// on ctx. Absent identifiers are left out rather than logged empty.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}
	fields := Fields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// Fields lists the identifiers WithContext attaches.
func Fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if actor, ok := actorcontext.ActorFromContext(ctx); ok {
		fields = append(fields, zap.String("actor_id", actor.ID))
		if actor.SessionID != "" {
			fields = append(fields, zap.String("session_id", actor.SessionID))
		}
	}
	if claimID := ClaimIDFromContext(ctx); claimID != "" {
		fields = append(fields, zap.String("claim_id", claimID))
	}
	return fields
}
