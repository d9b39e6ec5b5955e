package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/authorization"
	claimdomain "github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/clearinghouse"
	"github.com/smallbiznis/claimwise/internal/edi/decoder"
	"github.com/smallbiznis/claimwise/internal/edi/encoder"
	"github.com/smallbiznis/claimwise/internal/edi/rebuild"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var claimErrs claimdomain.ValidationErrors
	if errors.As(err, &claimErrs) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "claim_invalid",
			Message: "claim failed validation",
			Errors:  fromClaimErrors(claimErrs),
		}
	}

	var encErr *encoder.EncodingError
	if errors.As(err, &encErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "encoding_error",
			Message: encErr.Error(),
			Errors:  fromClaimErrors(encErr.Errors),
		}
	}

	var mapErr *rebuild.MappingError
	if errors.As(err, &mapErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invalid_mapping",
			Message: mapErr.Error(),
			Errors: []ValidationError{{
				Field:   "fix.mapping." + mapErr.From,
				Code:    string(rebuild.KindInvalidValue),
				Message: "replacement contains an x12 separator",
			}},
		}
	}

	var unresolved *rebuild.UnresolvedError
	if errors.As(err, &unresolved) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unresolved_diagnostics",
			Message: "diagnostics remain after applying fixes",
			Errors:  fromSegmentDiagnostics(unresolved.Residual),
		}
	}

	if isValidationError(err) {
		code := err.Error()
		if errors.Is(err, ErrInvalidRequest) {
			code = "invalid_request"
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err),
					Code:    code,
					Message: validationErrorMessage(err),
				},
			},
		}
	}

	var subErr *claimdomain.SubmissionError
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrUnknownRole):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, claimdomain.ErrInvalidTransition),
		errors.Is(err, claimdomain.ErrClaimImmutable):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: err.Error(),
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, claimdomain.ErrConcurrentModification):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "the claim was modified by another request",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, clearinghouse.ErrNotConfigured),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.As(err, &subErr) && subErr.Permanent:
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "submission_rejected",
			Message: subErr.Error(),
		}
	case errors.As(err, &subErr):
		return http.StatusBadGateway, errorPayload{
			Type:    "submission_failed",
			Message: subErr.Error(),
		}
	case errors.Is(err, auditdomain.ErrChainBroken),
		errors.Is(err, auditdomain.ErrUnsealFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    "audit_chain_broken",
			Message: "audit log failed verification",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "timeout",
			Message: "request timed out",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and the first error code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationFields = map[error]string{
	ErrInvalidRequest:                   "request",
	claimdomain.ErrInvalidClaim:         "claim",
	claimdomain.ErrMissingServiceLines:  "service_lines",
	claimdomain.ErrMissingDiagnoses:     "diagnoses",
	claimdomain.ErrInvalidRemittance:    "amount_cents",
	claimdomain.ErrInvalidControlNumber: "control_number",
	decoder.ErrUnsupportedTransaction:   "x12",
	decoder.ErrMalformedAck:             "x12",
}

func isValidationError(err error) bool {
	return validationSentinel(err) != nil
}

func validationSentinel(err error) error {
	for sentinel := range validationFields {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func validationErrorField(err error) string {
	return validationFields[validationSentinel(err)]
}

func validationErrorMessage(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid request"
	}
	return err.Error()
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, claimdomain.ErrClaimNotFound):
		return true
	default:
		return false
	}
}

func fromClaimErrors(errs []claimdomain.ValidationError) []ValidationError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		field := e.Field
		if e.Line > 0 {
			field = fmt.Sprintf("service_lines[%d].%s", e.Line, e.Field)
		}
		out = append(out, ValidationError{
			Field:   field,
			Code:    string(e.Kind),
			Message: e.Message,
		})
	}
	return out
}

func fromSegmentDiagnostics(diags []rebuild.SegmentDiagnostic) []ValidationError {
	out := make([]ValidationError, 0, len(diags))
	for _, d := range diags {
		field := fmt.Sprintf("segments[%d].%s", d.SegmentIndex, d.SegmentID)
		if d.Element > 0 {
			field = fmt.Sprintf("%s%02d", field, d.Element)
		}
		if d.Component > 0 {
			field = fmt.Sprintf("%s-%d", field, d.Component)
		}
		out = append(out, ValidationError{
			Field:   field,
			Code:    string(d.Kind),
			Message: d.Message,
		})
	}
	return out
}
