package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ClaimRef identifies a claim at the revision the caller last read.
type ClaimRef struct {
	ID       snowflake.ID `json:"id"`
	Revision int64        `json:"revision"`
}

func (c Claim) Ref() ClaimRef {
	return ClaimRef{ID: c.ID, Revision: c.Revision}
}

// SessionService is one billable service from a completed therapy session.
type SessionService struct {
	CPT               string    `json:"cpt"`
	Modifiers         []string  `json:"modifiers,omitempty"`
	Units             int       `json:"units"`
	ChargeCents       int64     `json:"charge_cents,omitempty"`
	DiagnosisPointers []string  `json:"diagnosis_pointers"`
	ServiceDate       time.Time `json:"service_date"`
}

// SessionBillingEvent is the read-only input supplied by the patient/session collaborator.
type SessionBillingEvent struct {
	PatientID          string           `json:"patient_id"`
	SessionID          string           `json:"session_id,omitempty"`
	PlaceOfService     string           `json:"place_of_service,omitempty"`
	OnsetDate          *time.Time       `json:"onset_date,omitempty"`
	Subscriber         Subscriber       `json:"subscriber"`
	BillingProvider    Provider         `json:"billing_provider"`
	RenderingProvider  *Provider        `json:"rendering_provider,omitempty"`
	Payer              Payer            `json:"payer"`
	Diagnoses          []string         `json:"diagnoses"`
	Services           []SessionService `json:"services"`
	PriorAuthorization *Authorization   `json:"prior_authorization,omitempty"`
}

// CorrectClaimRequest replaces the supplied parts of an editable claim.
// Nil fields are left unchanged.
type CorrectClaimRequest struct {
	PlaceOfService     *string        `json:"place_of_service,omitempty"`
	Subscriber         *Subscriber    `json:"subscriber,omitempty"`
	BillingProvider    *Provider      `json:"billing_provider,omitempty"`
	RenderingProvider  *Provider      `json:"rendering_provider,omitempty"`
	Payer              *Payer         `json:"payer,omitempty"`
	Diagnoses          []string       `json:"diagnoses,omitempty"`
	ServiceLines       []ServiceLine  `json:"service_lines,omitempty"`
	PriorAuthorization *Authorization `json:"prior_authorization,omitempty"`
}

func (r CorrectClaimRequest) Empty() bool {
	return r.PlaceOfService == nil && r.Subscriber == nil && r.BillingProvider == nil &&
		r.RenderingProvider == nil && r.Payer == nil && r.Diagnoses == nil &&
		r.ServiceLines == nil && r.PriorAuthorization == nil
}

// Ack is a clearinghouse or payer acknowledgment outcome.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type Service interface {
	Create(ctx context.Context, event SessionBillingEvent) (Claim, error)
	Get(ctx context.Context, id snowflake.ID) (Claim, error)
	ListByPatient(ctx context.Context, patientID string) ([]Claim, error)
	Correct(ctx context.Context, ref ClaimRef, req CorrectClaimRequest) (Claim, error)
	Validate(ctx context.Context, ref ClaimRef) (Claim, []ValidationError, error)
	MarkReadyToSubmit(ctx context.Context, ref ClaimRef) (Claim, error)
	Submit(ctx context.Context, ref ClaimRef) (Claim, error)
	ReceiveAck(ctx context.Context, ref ClaimRef, ack Ack) (Claim, error)
	ReceiveAckByControlNumber(ctx context.Context, controlNumber string, ack Ack) (Claim, error)
	ReceiveRemittance(ctx context.Context, ref ClaimRef, amountCents int64) (Claim, error)
	Resubmit(ctx context.Context, ref ClaimRef) (Claim, error)
	Requeue(ctx context.Context, ref ClaimRef) (Claim, error)
	// ExpirePendingAcks moves up to limit claims Submitted before cutoff to
	// Error and reports how many moved.
	ExpirePendingAcks(ctx context.Context, cutoff time.Time, limit int) (int, error)
	Encode(ctx context.Context, id snowflake.ID) (string, error)
}
