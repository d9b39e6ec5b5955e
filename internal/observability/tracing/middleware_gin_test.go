package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/claimwise/internal/actorcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddlewareNamesSpanByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := gin.New()
	r.Use(GinMiddleware())
	r.Use(func(c *gin.Context) {
		ctx := actorcontext.WithActor(c.Request.Context(), actorcontext.Actor{ID: "biller-1", Role: "biller"})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.POST("/v1/claims/:id/submit", func(c *gin.Context) {
		_ = c.Error(errors.New("clearinghouse: 837 for PAT-1 rejected"))
		c.Status(http.StatusBadGateway)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/claims/42/submit", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "HTTP POST /v1/claims/:id/submit", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "42", attrs["claim.id"].AsString())
	assert.Equal(t, int64(http.StatusBadGateway), attrs["http.status_code"].AsInt64())

	require.Len(t, span.Events(), 1)
	for _, kv := range span.Events()[0].Attributes {
		if kv.Key == "exception.message" {
			assert.Equal(t, "clearinghouse", kv.Value.AsString())
		}
	}
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "unknown", errorClass(nil))
	assert.Equal(t, "edi", errorClass(errors.New("edi: bad segment NM1*IL")))
	assert.Equal(t, "timeout", errorClass(errors.New("timeout")))
}
