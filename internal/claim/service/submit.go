package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/clearinghouse"
	"github.com/smallbiznis/claimwise/internal/edi/encoder"
	"github.com/smallbiznis/claimwise/pkg/log/ctxlogger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Submit encodes a claim and hands it to the clearinghouse.
//
// A ReadyToSubmit claim is persisted as Submitted before the hand-off
// starts. Control numbers are allocated on the first submission and kept for
// every retry, so the clearinghouse sees one logical submission per claim.
// Submitting a claim that is already Submitted resumes a hand-off whose
// outcome was never recorded.
//
// A delivered, cancelled or timed out hand-off leaves the claim Submitted,
// pending its acknowledgment. A permanent rejection of a fresh submission
// returns the claim to ReadyToSubmit. Exhausted retries, and a permanent
// rejection while resuming, move it from Submitted to Error.
func (s *Service) Submit(ctx context.Context, ref domain.ClaimRef) (domain.Claim, error) {
	claim, from, err := s.prepareSubmission(ctx, ref)
	if err != nil {
		s.auditErr(ctx, ActionSubmit, ref, err, map[string]any{"status": string(claim.Status)})
		return claim, err
	}
	if from != claim.Status {
		s.metrics.IncTransition(from, claim.Status)
	}

	log := ctxlogger.WithContext(ctx, s.log).With(
		zap.String("claim_id", claim.ID.String()),
		zap.String("control_number", claim.Control.Key()),
	)

	receipt, subErr := s.handOff(ctx, claim)

	// The outcome is persisted even when the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	metadata := map[string]any{
		"control_number": claim.Control.Key(),
		"attempts":       receipt.Attempts,
		"duplicate":      receipt.Duplicate,
		"from":           string(from),
		"to":             string(claim.Status),
		"path":           statusPath(from, claim.Status),
	}

	var submissionErr *domain.SubmissionError
	permanent := errors.As(subErr, &submissionErr) && submissionErr.Permanent
	switch {
	case subErr == nil:
		updated := claim
		if claim.LastError != nil {
			updated, err = s.settleSubmission(persistCtx, claim, domain.ClaimStatusSubmitted, nil)
			if err != nil {
				s.auditErr(ctx, ActionSubmit, ref, err, metadata)
				return claim, err
			}
		}
		s.audit(ctx, ActionSubmit, ref.ID.String(), auditdomain.OutcomeSuccess, metadata)
		return updated, nil

	case isCancellation(subErr):
		metadata["pending"] = true
		metadata["error"] = subErr.Error()
		log.Warn("submission interrupted, claim left pending acknowledgment", zap.Error(subErr))
		s.audit(ctx, ActionSubmit, ref.ID.String(), auditdomain.OutcomeSuccess, metadata)
		return claim, subErr

	case errors.Is(subErr, clearinghouse.ErrInFlight):
		metadata["error"] = subErr.Error()
		s.audit(ctx, ActionSubmit, ref.ID.String(), auditdomain.OutcomeRejected, metadata)
		return claim, fmt.Errorf("%w: %w", domain.ErrConcurrentModification, subErr)

	case permanent && from == domain.ClaimStatusReadyToSubmit:
		msg := subErr.Error()
		updated, err := s.revertSubmission(persistCtx, claim, msg)
		if err != nil {
			log.Error("record permanent submission failure", zap.Error(err))
			updated = claim
		}
		metadata["to"] = string(updated.Status)
		metadata["path"] = statusPath(from, claim.Status, updated.Status)
		metadata["error"] = msg
		metadata["permanent"] = true
		s.audit(ctx, ActionSubmit, ref.ID.String(), auditdomain.OutcomeRejected, metadata)
		return updated, subErr

	default:
		msg := subErr.Error()
		updated, err := s.settleSubmission(persistCtx, claim, domain.ClaimStatusError, &msg)
		if err != nil {
			log.Error("record failed submission", zap.Error(err))
			updated = claim
		} else {
			s.metrics.IncTransition(domain.ClaimStatusSubmitted, domain.ClaimStatusError)
		}
		metadata["to"] = string(updated.Status)
		metadata["path"] = statusPath(from, claim.Status, updated.Status)
		metadata["error"] = msg
		metadata["permanent"] = permanent
		s.audit(ctx, ActionSubmit, ref.ID.String(), auditdomain.OutcomeFailure, metadata)
		return updated, subErr
	}
}

// prepareSubmission moves a ReadyToSubmit claim to Submitted, assigning
// control numbers and the encoded payload on first use. It returns the claim
// at its new revision and the status it was loaded in.
func (s *Service) prepareSubmission(ctx context.Context, ref domain.ClaimRef) (domain.Claim, domain.ClaimStatus, error) {
	var from domain.ClaimStatus
	claim, err := s.mutateTx(ctx, ref, func(tx *gorm.DB, claim *domain.Claim) error {
		from = claim.Status
		switch claim.Status {
		case domain.ClaimStatusSubmitted:
			if claim.Payload == nil || !claim.Control.Assigned() {
				return fmt.Errorf("%w: submitted claim has no interchange", domain.ErrInvalidTransition)
			}
			return nil
		case domain.ClaimStatusReadyToSubmit:
		default:
			return transition(claim, domain.ClaimStatusSubmitted)
		}
		if !claim.Control.Assigned() {
			seq, err := s.repo.NextControlNumber(ctx, tx)
			if err != nil {
				return err
			}
			claim.Control = domain.NewControlNumbers(seq)
		}
		if claim.Payload == nil {
			payload, err := s.encoder.Encode(*claim, encoder.EnvelopeFromConfig(s.edi, s.now(), claim.Control))
			if err != nil {
				return err
			}
			claim.Payload = &payload
		}
		now := s.now()
		claim.SubmittedAt = &now
		return transition(claim, domain.ClaimStatusSubmitted)
	})
	return claim, from, err
}

func (s *Service) handOff(ctx context.Context, claim domain.Claim) (clearinghouse.Receipt, error) {
	if s.submitter == nil {
		return clearinghouse.Receipt{}, &domain.SubmissionError{
			ControlNumber: claim.Control.Key(),
			Permanent:     true,
			Err:           clearinghouse.ErrNotConfigured,
		}
	}
	return s.submitter.Submit(ctx, clearinghouse.Submission{
		ControlNumber: claim.Control.Key(),
		ClaimID:       claim.ID.String(),
		Payload:       *claim.Payload,
	})
}

func (s *Service) settleSubmission(ctx context.Context, claim domain.Claim, to domain.ClaimStatus, lastErr *string) (domain.Claim, error) {
	return s.mutate(ctx, claim.Ref(), func(stored *domain.Claim) error {
		if to != stored.Status {
			if err := transition(stored, to); err != nil {
				return err
			}
		}
		stored.LastError = lastErr
		return nil
	})
}

// revertSubmission undoes the Submitted write for a hand-off the
// clearinghouse refused outright. The claim never left, so this bypasses the
// lifecycle table. A concurrent change to the claim wins over the revert.
func (s *Service) revertSubmission(ctx context.Context, claim domain.Claim, msg string) (domain.Claim, error) {
	return s.mutate(ctx, claim.Ref(), func(stored *domain.Claim) error {
		if stored.Status != domain.ClaimStatusSubmitted {
			return fmt.Errorf("%w: claim is %s", domain.ErrInvalidTransition, stored.Status)
		}
		stored.Status = domain.ClaimStatusReadyToSubmit
		stored.SubmittedAt = nil
		stored.LastError = &msg
		return nil
	})
}

// ExpirePendingAcks moves claims that have waited for an acknowledgment since
// before cutoff from Submitted to Error, where they can be requeued. Claims
// acknowledged while the sweep runs are skipped.
func (s *Service) ExpirePendingAcks(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	pending, err := s.repo.ListSubmittedBefore(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, claim := range pending {
		if claim == nil || claim.SubmittedAt == nil {
			continue
		}
		submittedAt := claim.SubmittedAt.UTC().Format(time.RFC3339)
		msg := "no acknowledgment since " + submittedAt
		updated, err := s.settleSubmission(ctx, *claim, domain.ClaimStatusError, &msg)
		if errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			s.auditErr(ctx, ActionAckTimeout, claim.Ref(), err, nil)
			return expired, err
		}
		expired++
		s.metrics.IncTransition(domain.ClaimStatusSubmitted, domain.ClaimStatusError)
		s.audit(ctx, ActionAckTimeout, updated.ID.String(), auditdomain.OutcomeSuccess, map[string]any{
			"from":           string(domain.ClaimStatusSubmitted),
			"to":             string(updated.Status),
			"control_number": updated.Control.Key(),
			"submitted_at":   submittedAt,
		})
	}
	return expired, nil
}

// statusPath lists the statuses a submission passed through, without
// repeats.
func statusPath(statuses ...domain.ClaimStatus) []string {
	path := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if n := len(path); n > 0 && path[n-1] == string(status) {
			continue
		}
		path = append(path, string(status))
	}
	return path
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Encode returns the interchange persisted at first submission. Claims that
// were never submitted are rendered on demand, which requires control
// numbers to be assigned.
func (s *Service) Encode(ctx context.Context, id snowflake.ID) (string, error) {
	claim, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if claim.Payload != nil && *claim.Payload != "" {
		return *claim.Payload, nil
	}
	return s.encoder.Encode(*claim, encoder.EnvelopeFromConfig(s.edi, s.now(), claim.Control))
}
