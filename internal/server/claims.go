package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	claimdomain "github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/edi/decoder"
	"github.com/smallbiznis/claimwise/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

const contentTypeX12 = "application/edi-x12"

type revisionRequest struct {
	Revision *int64 `json:"revision"`
}

type correctClaimRequest struct {
	Revision *int64 `json:"revision"`
	claimdomain.CorrectClaimRequest
}

type ackRequest struct {
	Revision *int64 `json:"revision"`
	Accepted *bool  `json:"accepted"`
	Reason   string `json:"reason"`
	// X12 is a raw 999 or 277 interchange; it takes precedence over
	// Accepted and Reason when present.
	X12 string `json:"x12"`
}

type remittanceRequest struct {
	Revision    *int64 `json:"revision"`
	AmountCents *int64 `json:"amount_cents"`
}

func (s *Server) CreateClaim(c *gin.Context) {
	var req claimdomain.SessionBillingEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.claimSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListClaims(c *gin.Context) {
	patientID := strings.TrimSpace(c.Query("patient_id"))
	if patientID == "" {
		AbortWithError(c, newValidationError("patient_id", "required", "patient_id is required"))
		return
	}

	resp, err := s.claimSvc.ListByPatient(c.Request.Context(), patientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetClaim(c *gin.Context) {
	id, ok := claimIDParam(c)
	if !ok {
		return
	}

	resp, err := s.claimSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ExportClaimEDI returns the claim as an 837P interchange.
func (s *Server) ExportClaimEDI(c *gin.Context) {
	id, ok := claimIDParam(c)
	if !ok {
		return
	}

	raw, err := s.claimSvc.Encode(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, contentTypeX12, []byte(raw))
}

func (s *Server) CorrectClaim(c *gin.Context) {
	id, ok := claimIDParam(c)
	if !ok {
		return
	}
	var req correctClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ref, ok := claimRef(c, id, req.Revision)
	if !ok {
		return
	}
	if req.CorrectClaimRequest.Empty() {
		AbortWithError(c, newValidationError("request", "empty_correction", "no fields to correct"))
		return
	}

	resp, err := s.claimSvc.Correct(claimContext(c, id), ref, req.CorrectClaimRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ValidateClaim always answers 200 when the rules ran. Rule violations come
// back in errors and leave the claim a Draft.
func (s *Server) ValidateClaim(c *gin.Context) {
	ref, ok := bindRevision(c)
	if !ok {
		return
	}

	resp, errs, err := s.claimSvc.Validate(claimContext(c, ref.ID), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if errs == nil {
		errs = []claimdomain.ValidationError{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   resp,
		"valid":  len(errs) == 0,
		"errors": errs,
	})
}

func (s *Server) MarkReady(c *gin.Context) {
	s.revisionTransition(c, s.claimSvc.MarkReadyToSubmit)
}

// SubmitClaim answers 202 when the hand-off was cut short after the claim
// moved to Submitted; the acknowledgment settles it later.
func (s *Server) SubmitClaim(c *gin.Context) {
	ref, ok := bindRevision(c)
	if !ok {
		return
	}

	ctx := claimContext(c, ref.ID)
	resp, err := s.claimSvc.Submit(ctx, ref)
	if err != nil {
		if isCancellation(err) && resp.Status == claimdomain.ClaimStatusSubmitted {
			ctxlogger.WithContext(ctx, s.log).Warn("submission pending acknowledgment", zap.Error(err))
			c.JSON(http.StatusAccepted, gin.H{"data": resp, "pending": true})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReceiveAck(c *gin.Context) {
	id, ok := claimIDParam(c)
	if !ok {
		return
	}
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ref, ok := claimRef(c, id, req.Revision)
	if !ok {
		return
	}

	ack := claimdomain.Ack{Reason: strings.TrimSpace(req.Reason)}
	switch {
	case strings.TrimSpace(req.X12) != "":
		parsed, err := decoder.ReadAcknowledgment(req.X12)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		ack = claimdomain.Ack{Accepted: parsed.Accepted, Reason: parsed.Reason}
	case req.Accepted != nil:
		ack.Accepted = *req.Accepted
	default:
		AbortWithError(c, newValidationError("accepted", "required", "accepted or x12 is required"))
		return
	}

	resp, err := s.claimSvc.ReceiveAck(claimContext(c, id), ref, ack)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReceiveRemittance(c *gin.Context) {
	id, ok := claimIDParam(c)
	if !ok {
		return
	}
	var req remittanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ref, ok := claimRef(c, id, req.Revision)
	if !ok {
		return
	}
	if req.AmountCents == nil {
		AbortWithError(c, newValidationError("amount_cents", "required", "amount_cents is required"))
		return
	}

	resp, err := s.claimSvc.ReceiveRemittance(claimContext(c, id), ref, *req.AmountCents)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ResubmitClaim returns the new Draft that replaces the denied claim.
func (s *Server) ResubmitClaim(c *gin.Context) {
	s.revisionTransition(c, s.claimSvc.Resubmit)
}

func (s *Server) RequeueClaim(c *gin.Context) {
	s.revisionTransition(c, s.claimSvc.Requeue)
}

func (s *Server) revisionTransition(c *gin.Context, fn func(ctx context.Context, ref claimdomain.ClaimRef) (claimdomain.Claim, error)) {
	ref, ok := bindRevision(c)
	if !ok {
		return
	}

	resp, err := fn(claimContext(c, ref.ID), ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func bindRevision(c *gin.Context) (claimdomain.ClaimRef, bool) {
	id, ok := claimIDParam(c)
	if !ok {
		return claimdomain.ClaimRef{}, false
	}
	var req revisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return claimdomain.ClaimRef{}, false
	}
	return claimRef(c, id, req.Revision)
}

func claimIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid claim id"))
		return 0, false
	}
	return id, true
}

// claimRef requires the revision the caller last read; writes against a
// stale revision are refused by the claim service.
func claimRef(c *gin.Context, id snowflake.ID, revision *int64) (claimdomain.ClaimRef, bool) {
	if revision == nil || *revision < 0 {
		AbortWithError(c, newValidationError("revision", "required", "revision is required"))
		return claimdomain.ClaimRef{}, false
	}
	return claimdomain.ClaimRef{ID: id, Revision: *revision}, true
}

func claimContext(c *gin.Context, id snowflake.ID) context.Context {
	return ctxlogger.ContextWithClaimID(c.Request.Context(), id.String())
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
