package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/claimwise/internal/actorcontext"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareLogsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	r := gin.New()
	r.Use(GinMiddleware(zap.New(core), MiddlewareConfig{
		ErrorClassifier: func(error) (string, string) { return "conflict", "conflict" },
	}))
	r.Use(func(c *gin.Context) {
		ctx := actorcontext.WithActor(c.Request.Context(), actorcontext.Actor{ID: "biller-1", Role: "biller"})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.POST("/v1/claims/:id/submit", func(c *gin.Context) {
		assert.NotEmpty(t, correlation.ExtractCorrelationID(c.Request.Context()))
		_ = c.Error(errors.New("stale revision"))
		c.Status(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/claims/1790000000000000000/submit", nil)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-Id"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "/v1/claims/:id/submit", fields["route"])
	assert.Equal(t, "biller-1", fields["actor_id"])
	assert.Equal(t, "conflict", fields["error_type"])
	assert.NotContains(t, fields, "path")
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(nil, MiddlewareConfig{}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", 200, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/metrics", 500, "internal_error"))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/v1/claims", 502, "submission_failed"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/v1/claims/:id/submit", 503, "service_unavailable"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/v1/edi/fix", 429, "rate_limited"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/v1/claims/:id/ready", 409, "invalid_transition"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/v1/claims/:id/validate", 422, "claim_invalid"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/v1/claims", 200, ""))
}
