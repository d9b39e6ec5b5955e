package clearinghouse

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"github.com/smallbiznis/claimwise/pkg/log/ctxlogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RetryPolicy bounds the hand-off retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// PendingTTL expires a reservation left behind by a crashed attempt.
	PendingTTL time.Duration
	// CompletedTTL keeps a finished control number from being sent again.
	CompletedTTL time.Duration
}

func PolicyFromConfig(cfg config.ClearinghouseConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		CompletedTTL:   cfg.IdempotencyTTL,
	}
	p = p.withDefaults()
	p.PendingTTL = time.Duration(p.MaxAttempts) * (cfg.Timeout + p.MaxBackoff)
	if p.PendingTTL < time.Minute {
		p.PendingTTL = time.Minute
	}
	return p
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.PendingTTL <= 0 {
		p.PendingTTL = 5 * time.Minute
	}
	if p.CompletedTTL <= 0 {
		p.CompletedTTL = 30 * 24 * time.Hour
	}
	return p
}

// Receipt describes a successful hand-off. Duplicate is set when the control
// number had already been delivered and nothing was sent.
type Receipt struct {
	ControlNumber string    `json:"control_number"`
	Attempts      int       `json:"attempts"`
	Duplicate     bool      `json:"duplicate"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

type Submitter struct {
	client  Client
	store   IdempotencyStore
	policy  RetryPolicy
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type SubmitterParams struct {
	fx.In

	Client  Client
	Store   IdempotencyStore
	Config  config.Config
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func NewSubmitterFromParams(p SubmitterParams) *Submitter {
	return NewSubmitter(p.Client, p.Store, PolicyFromConfig(p.Config.Clearinghouse), p.Clock, p.Log, p.Metrics)
}

func NewSubmitter(client Client, store IdempotencyStore, policy RetryPolicy, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Submitter {
	if store == nil {
		store = NewMemoryStore(clk)
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{
		client:  client,
		store:   store,
		policy:  policy.withDefaults(),
		clock:   clk,
		log:     log.Named("clearinghouse.submitter"),
		metrics: m,
		tracer:  otel.Tracer("claimwise/clearinghouse"),
	}
}

// Submit hands sub to the clearinghouse, retrying transient failures with
// jittered exponential backoff. Failures are returned as
// *domain.SubmissionError; a cancelled ctx surfaces through its Err.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "clearinghouse.submit", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("claim.id", sub.ClaimID),
		attribute.String("x12.control_number", sub.ControlNumber),
	)

	log := ctxlogger.WithContext(ctx, s.log).With(
		zap.String("claim_id", sub.ClaimID),
		zap.String("control_number", sub.ControlNumber),
	)
	start := time.Now()
	defer func() { s.metrics.ObserveSubmitDuration(time.Since(start)) }()

	token, err := s.store.Reserve(ctx, sub.ControlNumber, s.policy.PendingTTL)
	switch {
	case errors.Is(err, ErrCompleted):
		log.Info("control number already delivered, skipping hand-off")
		s.metrics.IncSubmission(metrics.SubmissionOutcomeDuplicate)
		span.SetAttributes(attribute.Bool("clearinghouse.duplicate", true))
		return Receipt{ControlNumber: sub.ControlNumber, Duplicate: true, SubmittedAt: s.clock.Now()}, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation failed")
		return Receipt{}, &domain.SubmissionError{ControlNumber: sub.ControlNumber, Err: err}
	}

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := s.client.Submit(ctx, sub)
		switch {
		case err == nil:
			s.metrics.IncSubmitAttempt(metrics.AttemptResultOK)
			return struct{}{}, nil
		case IsPermanent(err):
			s.metrics.IncSubmitAttempt(metrics.AttemptResultPermanent)
			return struct{}{}, backoff.Permanent(err)
		default:
			s.metrics.IncSubmitAttempt(metrics.AttemptResultTransient)
			return struct{}{}, err
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.policy.InitialBackoff
	expo.MaxInterval = s.policy.MaxBackoff
	expo.RandomizationFactor = 0.5

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(s.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("clearinghouse hand-off failed, retrying",
				zap.Int("attempt", attempts),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)

	bg := context.WithoutCancel(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(ctxErr, err)
		}
		if relErr := s.store.Release(bg, sub.ControlNumber, token); relErr != nil {
			log.Warn("release idempotency reservation", zap.Error(relErr))
		}
		subErr := &domain.SubmissionError{
			ControlNumber: sub.ControlNumber,
			Attempts:      attempts,
			Permanent:     IsPermanent(err),
			Err:           err,
		}
		s.metrics.IncSubmission(metrics.ClassifySubmissionError(subErr))
		span.RecordError(subErr)
		span.SetStatus(codes.Error, "submission failed")
		span.SetAttributes(attribute.Int("clearinghouse.attempts", attempts))
		log.Error("clearinghouse hand-off failed", zap.Int("attempts", attempts), zap.Bool("permanent", subErr.Permanent), zap.Error(err))
		return Receipt{}, subErr
	}

	if err := s.store.Complete(bg, sub.ControlNumber, token, s.policy.CompletedTTL); err != nil {
		log.Warn("complete idempotency reservation", zap.Error(err))
	}
	s.metrics.IncSubmission(metrics.SubmissionOutcomeSubmitted)
	span.SetAttributes(attribute.Int("clearinghouse.attempts", attempts))
	log.Info("claim handed off to clearinghouse", zap.Int("attempts", attempts))
	return Receipt{ControlNumber: sub.ControlNumber, Attempts: attempts, SubmittedAt: s.clock.Now()}, nil
}
