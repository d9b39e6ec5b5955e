package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySubmissionError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "ok", err: nil, want: SubmissionOutcomeSubmitted},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: SubmissionOutcomePending},
		{name: "permanent", err: &domain.SubmissionError{Permanent: true, Err: errors.New("400")}, want: SubmissionOutcomeRejected},
		{name: "exhausted", err: &domain.SubmissionError{Attempts: 5, Err: errors.New("503")}, want: SubmissionOutcomeExhausted},
		{name: "unknown", err: errors.New("boom"), want: "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySubmissionError(tc.err))
		})
	}
}

func TestCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry, Config{ServiceName: "claimwise", Environment: "test"})
	require.NoError(t, err)

	m.IncTransition(domain.ClaimStatusDraft, domain.ClaimStatusValidated)
	m.IncValidationErrors([]domain.ValidationError{{Kind: domain.KindInvalidNPI}, {Kind: domain.KindInvalidNPI}})
	m.IncAuditDegraded(AuditDegradedStore, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(string(domain.ClaimStatusDraft), string(domain.ClaimStatusValidated))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validationErrors.WithLabelValues(string(domain.KindInvalidNPI))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditDegraded.WithLabelValues(AuditDegradedStore)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.auditPending))

	_, err = New(registry, Config{})
	assert.Error(t, err)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncTransition(domain.ClaimStatusDraft, domain.ClaimStatusValidated)
	m.IncSubmission(SubmissionOutcomeSubmitted)
	m.ObserveHTTP("GET", "/health", 200, 0)
}
