package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidClaim           = errors.New("invalid_claim")
	ErrClaimNotFound          = errors.New("claim_not_found")
	ErrInvalidTransition      = errors.New("invalid_transition")
	ErrClaimImmutable         = errors.New("claim_immutable")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrMissingServiceLines    = errors.New("missing_service_lines")
	ErrMissingDiagnoses       = errors.New("missing_diagnoses")
	ErrInvalidRemittance      = errors.New("invalid_remittance")
	ErrInvalidControlNumber   = errors.New("invalid_control_number")
)

// ValidationKind names the business rule a claim violated.
type ValidationKind string

const (
	KindMissingField               ValidationKind = "MissingField"
	KindInvalidCPT                 ValidationKind = "InvalidCPT"
	KindInvalidICD10               ValidationKind = "InvalidICD10"
	KindInvalidNPI                 ValidationKind = "InvalidNPI"
	KindModifierMismatch           ValidationKind = "ModifierMismatch"
	KindDiagnosisPointerOutOfRange ValidationKind = "DiagnosisPointerOutOfRange"
	KindDuplicateClaim             ValidationKind = "DuplicateClaim"
	KindAuthorizationExpired       ValidationKind = "AuthorizationExpired"
	KindFrequencyExceeded          ValidationKind = "FrequencyExceeded"
	KindInvalidValue               ValidationKind = "InvalidValue"
)

// ValidationError is a recoverable rule violation. Line is 1-based; zero
// means the error belongs to the claim header.
type ValidationError struct {
	Kind    ValidationKind `json:"kind"`
	Field   string         `json:"field"`
	Line    int            `json:"line,omitempty"`
	Value   string         `json:"value,omitempty"`
	Message string         `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d %s: %s", e.Kind, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
}

// ValidationErrors lets a non-empty validation result travel as an error.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// SubmissionError reports a failed clearinghouse hand-off.
type SubmissionError struct {
	ControlNumber string
	Attempts      int
	Permanent     bool
	Err           error
}

func (e *SubmissionError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("submission %s failed (%s) after %d attempt(s): %v", e.ControlNumber, kind, e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
