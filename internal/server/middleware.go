package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/claimwise/internal/actorcontext"
	obsmetrics "github.com/smallbiznis/claimwise/internal/observability/metrics"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderSessionID = "X-Session-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ActorContext puts the calling actor on the request context. Requests
// without an actor id pass through unattributed; authorize rejects them.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if actorID == "" {
			c.Next()
			return
		}
		ctx := actorcontext.WithActor(c.Request.Context(), actorcontext.Actor{
			ID:        actorID,
			SessionID: c.GetHeader(HeaderSessionID),
			Role:      strings.ToLower(c.GetHeader(HeaderActorRole)),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func metricsMiddleware(m *obsmetrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		m.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
