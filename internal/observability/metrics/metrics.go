package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
)

const (
	SubmissionOutcomeSubmitted = "submitted"
	SubmissionOutcomeDuplicate = "duplicate"
	SubmissionOutcomePending   = "pending"
	SubmissionOutcomeRejected  = "rejected"
	SubmissionOutcomeExhausted = "exhausted"

	AttemptResultOK        = "ok"
	AttemptResultTransient = "transient"
	AttemptResultPermanent = "permanent"

	AuditDegradedStore   = "store"
	AuditDegradedDropped = "dropped"
)

// Config labels every series with the service identity.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes the claim pipeline instruments.
type Metrics struct {
	transitions      *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	submitAttempts   *prometheus.CounterVec
	submitDuration   prometheus.Observer
	auditAppends     prometheus.Counter
	auditDegraded    *prometheus.CounterVec
	auditPending     prometheus.Gauge
	parseDiagnostics *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	acknowledgements *prometheus.CounterVec
}

// New registers the instruments with registerer, or the default registerer
// when nil.
func New(registerer prometheus.Registerer, cfg Config) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "claimwise"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_claim_transitions_total",
		Help:        "Claim status transitions by source and target status.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	validationErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_claim_validation_errors_total",
		Help:        "Claim validation errors by violated rule.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_submissions_total",
		Help:        "Clearinghouse submissions by final outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	submitAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_submission_attempts_total",
		Help:        "Clearinghouse submission attempts by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	submitDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "claimwise_submission_duration_seconds",
		Help:        "Submission latency including retries.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	})
	auditAppends := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "claimwise_audit_appends_total",
		Help:        "Audit entries appended to the ring.",
		ConstLabels: constLabels,
	})
	auditDegraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_audit_degraded_total",
		Help:        "Audit records that could not be persisted.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	auditPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "claimwise_audit_fallback_pending",
		Help:        "Sealed audit records waiting in the fallback buffer.",
		ConstLabels: constLabels,
	})
	parseDiagnostics := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_edi_parse_diagnostics_total",
		Help:        "Diagnostics raised while parsing or diagnosing X12.",
		ConstLabels: constLabels,
	}, []string{"code"})
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_http_requests_total",
		Help:        "HTTP requests by route and status class.",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status"})
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "claimwise_http_request_duration_seconds",
		Help:        "HTTP request latency by route.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"method", "route"})
	acknowledgements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "claimwise_acknowledgements_total",
		Help:        "Clearinghouse acknowledgements consumed by result.",
		ConstLabels: constLabels,
	}, []string{"result"})

	for _, c := range []prometheus.Collector{
		transitions,
		validationErrors,
		submissions,
		submitAttempts,
		submitDuration,
		auditAppends,
		auditDegraded,
		auditPending,
		parseDiagnostics,
		httpRequests,
		httpDuration,
		acknowledgements,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		transitions:      transitions,
		validationErrors: validationErrors,
		submissions:      submissions,
		submitAttempts:   submitAttempts,
		submitDuration:   submitDuration,
		auditAppends:     auditAppends,
		auditDegraded:    auditDegraded,
		auditPending:     auditPending,
		parseDiagnostics: parseDiagnostics,
		httpRequests:     httpRequests,
		httpDuration:     httpDuration,
		acknowledgements: acknowledgements,
	}, nil
}

// NewNop returns metrics bound to a private registry, for tests and tools.
func NewNop() *Metrics {
	m, _ := New(prometheus.NewRegistry(), Config{})
	return m
}

func (m *Metrics) IncTransition(from, to domain.ClaimStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(string(from)), label(string(to))).Inc()
}

func (m *Metrics) IncValidationErrors(errs []domain.ValidationError) {
	if m == nil {
		return
	}
	for _, e := range errs {
		m.validationErrors.WithLabelValues(label(string(e.Kind))).Inc()
	}
}

func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(label(outcome)).Inc()
}

func (m *Metrics) IncSubmitAttempt(result string) {
	if m == nil {
		return
	}
	m.submitAttempts.WithLabelValues(label(result)).Inc()
}

func (m *Metrics) ObserveSubmitDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.Observe(d.Seconds())
}

func (m *Metrics) IncAuditAppend() {
	if m == nil {
		return
	}
	m.auditAppends.Inc()
}

func (m *Metrics) IncAuditDegraded(reason string, pending int) {
	if m == nil {
		return
	}
	m.auditDegraded.WithLabelValues(label(reason)).Inc()
	m.auditPending.Set(float64(pending))
}

func (m *Metrics) SetAuditPending(pending int) {
	if m == nil {
		return
	}
	m.auditPending.Set(float64(pending))
}

func (m *Metrics) IncParseDiagnostic(code string) {
	if m == nil {
		return
	}
	m.parseDiagnostics.WithLabelValues(label(code)).Inc()
}

func (m *Metrics) IncAcknowledgement(result string) {
	if m == nil {
		return
	}
	m.acknowledgements.WithLabelValues(label(result)).Inc()
}

// ObserveHTTP records a finished request. route is the matched pattern, never
// the raw path, to keep claim ids out of label values.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, label(route), statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, label(route)).Observe(d.Seconds())
}

// ClassifySubmissionError maps a submission failure to an outcome label.
func ClassifySubmissionError(err error) string {
	if err == nil {
		return SubmissionOutcomeSubmitted
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SubmissionOutcomePending
	}
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) {
		if subErr.Permanent {
			return SubmissionOutcomeRejected
		}
		return SubmissionOutcomeExhausted
	}
	return "unknown"
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
