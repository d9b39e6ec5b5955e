package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/claim/validation"
	"github.com/smallbiznis/claimwise/pkg/log/ctxlogger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Validate moves a Draft claim to Validated when no rule is violated. A
// non-empty error list leaves the claim in Draft and is not an error.
func (s *Service) Validate(ctx context.Context, ref domain.ClaimRef) (domain.Claim, []domain.ValidationError, error) {
	var errs []domain.ValidationError
	claim, err := s.mutateTx(ctx, ref, func(tx *gorm.DB, claim *domain.Claim) error {
		if claim.Status != domain.ClaimStatusDraft {
			return transition(claim, domain.ClaimStatusValidated)
		}
		vctx, err := s.validationContext(ctx, tx, *claim)
		if err != nil {
			return err
		}
		errs = s.validator.Validate(*claim, vctx)
		if len(errs) > 0 {
			return domain.ValidationErrors(errs)
		}
		return transition(claim, domain.ClaimStatusValidated)
	})

	if len(errs) > 0 {
		s.metrics.IncValidationErrors(errs)
		s.audit(ctx, ActionValidate, ref.ID.String(), auditdomain.OutcomeRejected, map[string]any{
			"status": string(claim.Status),
			"errors": validationSummary(errs),
		})
		return claim, errs, nil
	}
	if err != nil {
		s.auditErr(ctx, ActionValidate, ref, err, nil)
		return claim, nil, err
	}

	s.metrics.IncTransition(domain.ClaimStatusDraft, domain.ClaimStatusValidated)
	s.audit(ctx, ActionValidate, ref.ID.String(), auditdomain.OutcomeSuccess, map[string]any{
		"from": string(domain.ClaimStatusDraft),
		"to":   string(claim.Status),
	})
	return claim, nil, nil
}

func (s *Service) validationContext(ctx context.Context, tx *gorm.DB, claim domain.Claim) (validation.Context, error) {
	others, err := s.repo.ListByPatient(ctx, tx, claim.PatientID)
	if err != nil {
		return validation.Context{}, err
	}
	existing := make([]domain.Claim, 0, len(others))
	for _, other := range others {
		if other != nil {
			existing = append(existing, *other)
		}
	}
	// A resubmission replaces its original, so the two never collide.
	if claim.ResubmissionOf != nil {
		kept := existing[:0]
		for _, other := range existing {
			if other.ID != *claim.ResubmissionOf {
				kept = append(kept, other)
			}
		}
		existing = kept
	}
	return validation.Context{
		Payer:    s.payers.Get().For(claim.Payer.ID),
		Existing: validation.Fingerprints(existing, claim.ID),
	}, nil
}

func validationSummary(errs []domain.ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

func (s *Service) MarkReadyToSubmit(ctx context.Context, ref domain.ClaimRef) (domain.Claim, error) {
	return s.simpleTransition(ctx, ActionReady, ref, domain.ClaimStatusReadyToSubmit, nil)
}

// Requeue returns a claim in Error to ReadyToSubmit. Its control numbers and
// payload are kept so the next submission reuses the same idempotency key.
func (s *Service) Requeue(ctx context.Context, ref domain.ClaimRef) (domain.Claim, error) {
	return s.simpleTransition(ctx, ActionRequeue, ref, domain.ClaimStatusReadyToSubmit, func(claim *domain.Claim) error {
		if claim.Status != domain.ClaimStatusError {
			return fmt.Errorf("%w: claim is %s", domain.ErrInvalidTransition, claim.Status)
		}
		claim.LastError = nil
		return nil
	})
}

func (s *Service) simpleTransition(ctx context.Context, action string, ref domain.ClaimRef, to domain.ClaimStatus, pre func(*domain.Claim) error) (domain.Claim, error) {
	var from domain.ClaimStatus
	claim, err := s.mutate(ctx, ref, func(claim *domain.Claim) error {
		from = claim.Status
		if pre != nil {
			if err := pre(claim); err != nil {
				return err
			}
		}
		return transition(claim, to)
	})
	if err != nil {
		s.auditErr(ctx, action, ref, err, map[string]any{"status": string(claim.Status)})
		return claim, err
	}
	s.metrics.IncTransition(from, to)
	s.audit(ctx, action, ref.ID.String(), auditdomain.OutcomeSuccess, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	return claim, nil
}

// ReceiveAck applies a clearinghouse or payer acknowledgment to a Submitted
// claim.
func (s *Service) ReceiveAck(ctx context.Context, ref domain.ClaimRef, ack domain.Ack) (domain.Claim, error) {
	to := domain.ClaimStatusDenied
	if ack.Accepted {
		to = domain.ClaimStatusAccepted
	}
	reason := strings.TrimSpace(ack.Reason)
	claim, err := s.mutate(ctx, ref, func(claim *domain.Claim) error {
		if err := transition(claim, to); err != nil {
			return err
		}
		if !ack.Accepted {
			if reason == "" {
				reason = "denied without reason"
			}
			claim.DenialReason = &reason
		}
		return nil
	})
	metadata := map[string]any{"accepted": ack.Accepted}
	if reason != "" {
		metadata["reason"] = reason
	}
	if err != nil {
		s.auditErr(ctx, ActionAck, ref, err, metadata)
		return claim, err
	}
	s.metrics.IncTransition(domain.ClaimStatusSubmitted, to)
	metadata["from"] = string(domain.ClaimStatusSubmitted)
	metadata["to"] = string(to)
	s.audit(ctx, ActionAck, ref.ID.String(), auditdomain.OutcomeSuccess, metadata)
	return claim, nil
}

// ReceiveAckByControlNumber resolves the interchange control number an
// asynchronous acknowledgment is keyed by, then applies it.
func (s *Service) ReceiveAckByControlNumber(ctx context.Context, controlNumber string, ack domain.Ack) (domain.Claim, error) {
	cn := strings.TrimSpace(controlNumber)
	control, err := strconv.ParseInt(cn, 10, 64)
	if err != nil || control <= 0 {
		err = fmt.Errorf("%w: %q", domain.ErrInvalidControlNumber, controlNumber)
		s.audit(ctx, ActionAck, "", auditdomain.OutcomeRejected, map[string]any{
			"control_number": controlNumber,
			"error":          err.Error(),
		})
		return domain.Claim{}, err
	}
	claim, err := s.repo.FindByInterchangeControl(ctx, s.db, control)
	if err != nil {
		s.audit(ctx, ActionAck, "", outcomeFor(err), map[string]any{
			"control_number": cn,
			"error":          err.Error(),
		})
		return domain.Claim{}, err
	}
	return s.ReceiveAck(ctx, claim.Ref(), ack)
}

// ReceiveRemittance pays an Accepted claim. Any difference from the total
// charge is kept as an adjustment: an underpayment is flagged Partial, an
// overpayment is flagged Overpaid with a negative adjustment. Both still
// settle the claim as Paid.
func (s *Service) ReceiveRemittance(ctx context.Context, ref domain.ClaimRef, amountCents int64) (domain.Claim, error) {
	var remit domain.Remittance
	claim, err := s.mutate(ctx, ref, func(claim *domain.Claim) error {
		if amountCents < 0 {
			return fmt.Errorf("%w: negative amount %d", domain.ErrInvalidRemittance, amountCents)
		}
		if claim.Status != domain.ClaimStatusAccepted {
			return transition(claim, domain.ClaimStatusPaid)
		}
		total := claim.TotalCharge()
		remit = domain.Remittance{
			PaidCents:       amountCents,
			AdjustmentCents: total - amountCents,
			Partial:         amountCents < total,
			Overpaid:        amountCents > total,
			ReceivedAt:      s.now(),
		}
		claim.Remittance = &remit
		return transition(claim, domain.ClaimStatusPaid)
	})
	if err != nil {
		s.auditErr(ctx, ActionRemittance, ref, err, map[string]any{"amount": amountCents})
		return claim, err
	}
	if remit.Overpaid {
		ctxlogger.WithContext(ctx, s.log).Warn("remittance exceeds claim total",
			zap.String("claim_id", claim.ID.String()),
			zap.Int64("paid_cents", remit.PaidCents),
			zap.Int64("adjustment_cents", remit.AdjustmentCents),
		)
	}
	s.metrics.IncTransition(domain.ClaimStatusAccepted, domain.ClaimStatusPaid)
	s.audit(ctx, ActionRemittance, ref.ID.String(), auditdomain.OutcomeSuccess, map[string]any{
		"amount":     amountCents,
		"adjustment": remit.AdjustmentCents,
		"partial":    remit.Partial,
		"overpaid":   remit.Overpaid,
	})
	return claim, nil
}

// Resubmit creates a new Draft linked to a Denied claim. The denied claim
// itself is never modified.
func (s *Service) Resubmit(ctx context.Context, ref domain.ClaimRef) (domain.Claim, error) {
	var next domain.Claim
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orig, err := s.load(ctx, tx, ref)
		if err != nil {
			return err
		}
		if orig.Status != domain.ClaimStatusDenied {
			return fmt.Errorf("%w: only denied claims are resubmitted, claim is %s", domain.ErrInvalidTransition, orig.Status)
		}
		next = resubmission(*orig, s.genID.Generate(), s.now())
		return s.repo.Insert(ctx, tx, &next)
	})
	if err != nil {
		s.auditErr(ctx, ActionResubmit, ref, err, nil)
		return domain.Claim{}, err
	}
	s.metrics.IncTransition(domain.ClaimStatusDenied, domain.ClaimStatusDraft)
	s.audit(ctx, ActionResubmit, ref.ID.String(), auditdomain.OutcomeSuccess, map[string]any{
		"new_claim_id": next.ID.String(),
		"version":      next.Version,
	})
	return next, nil
}

func resubmission(orig domain.Claim, id snowflake.ID, now time.Time) domain.Claim {
	origID := orig.ID
	next := orig
	next.ID = id
	next.Status = domain.ClaimStatusDraft
	next.Version = orig.Version + 1
	next.Revision = 0
	next.ResubmissionOf = &origID
	next.Control = domain.ControlNumbers{}
	next.Payload = nil
	next.Remittance = nil
	next.DenialReason = nil
	next.LastError = nil
	next.SubmittedAt = nil
	next.Diagnoses = append(next.Diagnoses[:0:0], orig.Diagnoses...)
	next.ServiceLines = append(next.ServiceLines[:0:0], orig.ServiceLines...)
	next.CreatedAt = now
	next.UpdatedAt = now
	return next
}
