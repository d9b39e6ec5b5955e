package clearinghouse

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientSendsInterchange(t *testing.T) {
	var got *http.Request
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewHTTPClient(config.ClearinghouseConfig{Endpoint: srv.URL, APIKey: "secret", Timeout: time.Second})
	ctx := correlation.ContextWithCorrelationID(context.Background(), "01HXSUBMIT")
	err := c.Submit(ctx, Submission{ControlNumber: "000000008", ClaimID: "1", Payload: "ISA*00~"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, ContentTypeX12, got.Header.Get("Content-Type"))
	assert.Equal(t, "000000008", got.Header.Get("Idempotency-Key"))
	assert.Equal(t, "000000008", got.Header.Get("X-Control-Number"))
	assert.Equal(t, "secret", got.Header.Get("Authorization"))
	assert.Equal(t, "01HXSUBMIT", got.Header.Get(correlation.HeaderName))
	assert.Equal(t, "ISA*00~", body)
}

func TestHTTPClientClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			err := NewHTTPClient(config.ClearinghouseConfig{Endpoint: srv.URL}).Submit(context.Background(), Submission{ControlNumber: "1"})
			require.Error(t, err)
			assert.Equal(t, tc.permanent, IsPermanent(err))
			assert.Equal(t, !tc.permanent, errors.Is(err, ErrUnavailable))

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tc.status, statusErr.StatusCode)
			assert.Equal(t, "nope", statusErr.Body)
		})
	}
}

func TestHTTPClientNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewHTTPClient(config.ClearinghouseConfig{Endpoint: url}).Submit(context.Background(), Submission{ControlNumber: "1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsPermanent(err))
}

func TestHTTPClientWithoutEndpoint(t *testing.T) {
	err := NewHTTPClient(config.ClearinghouseConfig{}).Submit(context.Background(), Submission{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.True(t, IsPermanent(err))
}
