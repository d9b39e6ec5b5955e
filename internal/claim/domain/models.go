// Package domain contains the claim aggregate and its lifecycle rules.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ClaimStatus represents lifecycle stages for a claim.
type ClaimStatus string

const (
	ClaimStatusDraft         ClaimStatus = "DRAFT"
	ClaimStatusValidated     ClaimStatus = "VALIDATED"
	ClaimStatusReadyToSubmit ClaimStatus = "READY_TO_SUBMIT"
	ClaimStatusSubmitted     ClaimStatus = "SUBMITTED"
	ClaimStatusAccepted      ClaimStatus = "ACCEPTED"
	ClaimStatusDenied        ClaimStatus = "DENIED"
	ClaimStatusPaid          ClaimStatus = "PAID"
	ClaimStatusError         ClaimStatus = "ERROR"
)

const (
	MaxDiagnoses    = 12
	MaxModifiers    = 4
	MaxPointers     = 4
	MaxServiceLines = 50
)

const (
	EntityTypePerson       = "1"
	EntityTypeOrganization = "2"
)

type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required,len=2"`
	PostalCode string `json:"postal_code" validate:"required"`
}

// Provider is a billing or rendering provider. LastName carries the
// organization name when EntityType is EntityTypeOrganization.
type Provider struct {
	EntityType   string  `json:"entity_type" validate:"omitempty,oneof=1 2"`
	NPI          string  `json:"npi" validate:"required"`
	TaxonomyCode string  `json:"taxonomy_code" validate:"required"`
	LastName     string  `json:"last_name" validate:"required"`
	FirstName    string  `json:"first_name,omitempty"`
	TaxID        string  `json:"tax_id" validate:"required"`
	Address      Address `json:"address"`
}

// Subscriber holds the insured's demographics supplied by the session collaborator.
type Subscriber struct {
	MemberID     string    `json:"member_id" validate:"required"`
	GroupNumber  string    `json:"group_number,omitempty"`
	Relationship string    `json:"relationship,omitempty"`
	FirstName    string    `json:"first_name" validate:"required"`
	LastName     string    `json:"last_name" validate:"required"`
	BirthDate    time.Time `json:"birth_date" validate:"required"`
	Gender       string    `json:"gender" validate:"required,oneof=M F U"`
	Address      Address   `json:"address"`
}

type Payer struct {
	ID              string `json:"id" validate:"required"`
	Name            string `json:"name" validate:"required"`
	FilingIndicator string `json:"filing_indicator,omitempty"`
}

// Authorization is a payer-issued prior authorization window.
type Authorization struct {
	Number    string    `json:"number"`
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
}

// Covers reports whether the date falls inside the authorization window, inclusive.
func (a Authorization) Covers(date time.Time) bool {
	day := truncateDay(date)
	return !day.Before(truncateDay(a.ValidFrom)) && !day.After(truncateDay(a.ValidTo))
}

type DiagnosisCode struct {
	Code    string `json:"code"`
	Pointer string `json:"pointer"`
}

type ServiceLine struct {
	CPT               string    `json:"cpt" validate:"required"`
	Modifiers         []string  `json:"modifiers,omitempty"`
	DiagnosisPointers []string  `json:"diagnosis_pointers" validate:"min=1"`
	Units             int       `json:"units"`
	ChargeCents       int64     `json:"charge_cents"`
	ServiceDate       time.Time `json:"service_date" validate:"required"`
}

// ControlNumbers are the envelope control numbers assigned on first submission.
type ControlNumbers struct {
	Interchange int64 `json:"interchange"`
	Group       int64 `json:"group"`
	Transaction int64 `json:"transaction"`
}

func (c ControlNumbers) Assigned() bool {
	return c.Interchange > 0 && c.Group > 0 && c.Transaction > 0
}

// Key is the idempotency key used with the clearinghouse (ISA13 form).
func (c ControlNumbers) Key() string {
	return fmt.Sprintf("%09d", c.Interchange)
}

// NewControlNumbers derives the three envelope numbers from one sequence value.
func NewControlNumbers(seq int64) ControlNumbers {
	return ControlNumbers{
		Interchange: seq,
		Group:       seq,
		Transaction: seq%9999 + 1,
	}
}

// Remittance records a payment against the claim total. AdjustmentCents is
// total minus paid, so it is negative when the payer sent more than was
// charged.
type Remittance struct {
	PaidCents       int64     `json:"paid_cents"`
	AdjustmentCents int64     `json:"adjustment_cents"`
	Partial         bool      `json:"partial"`
	Overpaid        bool      `json:"overpaid,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Claim is the aggregate root of the billing lifecycle.
type Claim struct {
	ID                 snowflake.ID                       `gorm:"primaryKey" json:"id"`
	PatientID          string                             `gorm:"type:text;not null;index" json:"patient_id" validate:"required"`
	SessionID          string                             `gorm:"type:text" json:"session_id,omitempty"`
	PlaceOfService     string                             `gorm:"type:text;not null" json:"place_of_service" validate:"required,len=2"`
	OnsetDate          *time.Time                         `json:"onset_date,omitempty"`
	BillingProvider    Provider                           `gorm:"serializer:json;type:jsonb" json:"billing_provider"`
	RenderingProvider  Provider                           `gorm:"serializer:json;type:jsonb" json:"rendering_provider"`
	Subscriber         Subscriber                         `gorm:"serializer:json;type:jsonb" json:"subscriber"`
	Payer              Payer                              `gorm:"serializer:json;type:jsonb" json:"payer"`
	Diagnoses          datatypes.JSONSlice[DiagnosisCode] `gorm:"type:jsonb" json:"diagnoses"`
	ServiceLines       datatypes.JSONSlice[ServiceLine]   `gorm:"type:jsonb" json:"service_lines"`
	PriorAuthorization *Authorization                     `gorm:"serializer:json;type:jsonb" json:"prior_authorization,omitempty"`
	Status             ClaimStatus                        `gorm:"type:text;not null;index" json:"status"`
	Control            ControlNumbers                     `gorm:"embedded;embeddedPrefix:control_" json:"control_numbers"`
	Version            int                                `gorm:"not null;default:1" json:"version"`
	Revision           int64                              `gorm:"not null;default:0" json:"revision"`
	ResubmissionOf     *snowflake.ID                      `gorm:"index" json:"resubmission_of,omitempty"`
	Remittance         *Remittance                        `gorm:"serializer:json;type:jsonb" json:"remittance,omitempty"`
	DenialReason       *string                            `gorm:"type:text" json:"denial_reason,omitempty"`
	LastError          *string                            `gorm:"type:text" json:"last_error,omitempty"`
	Payload            *string                            `gorm:"type:text" json:"-"`
	SubmittedAt        *time.Time                         `json:"submitted_at,omitempty"`
	CreatedAt          time.Time                          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Claim) TableName() string { return "claims" }

// TotalCharge is always derived from the service lines.
func (c Claim) TotalCharge() int64 {
	var total int64
	for _, line := range c.ServiceLines {
		total += line.ChargeCents
	}
	return total
}

// IsResubmission reports whether the claim replaces a prior denied claim.
func (c Claim) IsResubmission() bool {
	return c.ResubmissionOf != nil && *c.ResubmissionOf != 0
}

// DiagnosisIndex resolves a pointer letter to its zero-based position.
func (c Claim) DiagnosisIndex(pointer string) (int, bool) {
	for i, dx := range c.Diagnoses {
		if dx.Pointer == pointer {
			return i, true
		}
	}
	return 0, false
}

// PointerLetter returns the positional pointer letter (A-L) for index i.
func PointerLetter(i int) string {
	if i < 0 || i >= MaxDiagnoses {
		return ""
	}
	return string(rune('A' + i))
}

// AssignPointers labels diagnoses with their positional letters.
func AssignPointers(codes []string) []DiagnosisCode {
	out := make([]DiagnosisCode, 0, len(codes))
	for i, code := range codes {
		out = append(out, DiagnosisCode{Code: code, Pointer: PointerLetter(i)})
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
