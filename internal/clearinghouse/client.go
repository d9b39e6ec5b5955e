// Package clearinghouse hands encoded 837P interchanges to the
// clearinghouse and consumes its acknowledgments.
package clearinghouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/propagation"
)

var (
	ErrRejected      = errors.New("clearinghouse_rejected")
	ErrUnavailable   = errors.New("clearinghouse_unavailable")
	ErrNotConfigured = errors.New("clearinghouse_not_configured")
	ErrInFlight      = errors.New("submission_in_flight")
	ErrCompleted     = errors.New("submission_completed")
)

const ContentTypeX12 = "application/edi-x12"

// Submission is one interchange bound for the clearinghouse. ControlNumber is
// the ISA13 value and doubles as the idempotency key.
type Submission struct {
	ControlNumber string
	ClaimID       string
	Payload       string
}

// Client delivers a submission. Failures the clearinghouse will never accept
// wrap ErrRejected; anything else may be retried.
type Client interface {
	Submit(ctx context.Context, sub Submission) error
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrNotConfigured)
}

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("clearinghouse returned %d", e.StatusCode)
	}
	return fmt.Sprintf("clearinghouse returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	if retryableStatus(e.StatusCode) {
		return target == ErrUnavailable
	}
	return target == ErrRejected
}

// retryableStatus treats timeouts, throttling and server errors as transient.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// maxErrorBody caps how much of a failed reply is kept in the error.
const maxErrorBody = 512

type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPClient(cfg config.ClearinghouseConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, sub Submission) error {
	if c == nil || c.endpoint == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(sub.Payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrNotConfigured, err)
	}
	req.Header.Set("Content-Type", ContentTypeX12)
	req.Header.Set("Idempotency-Key", sub.ControlNumber)
	req.Header.Set("X-Control-Number", sub.ControlNumber)
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	correlation.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
