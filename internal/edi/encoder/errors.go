package encoder

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/claimwise/internal/claim/domain"
)

var ErrEncoding = errors.New("encoding_failed")

type Reason string

const (
	ReasonStatus         Reason = "status"
	ReasonValidation     Reason = "validation"
	ReasonControlNumbers Reason = "control_numbers"
	ReasonTooManyLines   Reason = "too_many_service_lines"
	ReasonEnvelope       Reason = "envelope"
)

// EncodingError is fatal to one Encode call. The claim is left untouched.
type EncodingError struct {
	Reason Reason
	Errors []domain.ValidationError
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode 837P (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("encode 837P (%s)", e.Reason)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

func encodingError(reason Reason, err error) *EncodingError {
	return &EncodingError{Reason: reason, Err: err}
}
