package types

import (
	"maps"
	"net/http"
	"strings"
)

// ErrorCode classifies a failure. The prefix of each code decides the HTTP
// status (see HTTPStatus).
type ErrorCode string

const (
	// Validation (400). Never retried by the relay; the caller must fix the request.
	ErrCodeValidationMissingSignature ErrorCode = "validation_missing_signature"
	ErrCodeValidationInvalidSignature ErrorCode = "validation_invalid_signature"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationUnrecognizedType ErrorCode = "validation_unrecognized_event_type"
	ErrCodeValidationInvalidJSON      ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidProductID ErrorCode = "validation_invalid_product_id"
	ErrCodeValidationPayloadTooLarge  ErrorCode = "validation_payload_too_large"
	ErrCodeValidationInvalidEncoding  ErrorCode = "validation_invalid_content_encoding"

	// Configuration (500). Operator action required.
	ErrCodeConfigUpstreamUnavailable ErrorCode = "config_upstream_unavailable"
	ErrCodeConfigSecretMissing       ErrorCode = "config_signing_secret_missing"

	// Auth (401). Admin endpoints only.
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Not Found (404)
	ErrCodeNotFoundEvent ErrorCode = "not_found_event"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"

	// Upstream (502). Retry is left to the provider's webhook redelivery.
	ErrCodeUpstreamRejected    ErrorCode = "upstream_rejected"
	ErrCodeUpstreamUnreachable ErrorCode = "upstream_unreachable"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// statusByPrefix is consulted in order; the first matching prefix wins.
var statusByPrefix = []struct {
	prefix string
	status int
}{
	{"validation_", http.StatusBadRequest},
	{"config_", http.StatusInternalServerError},
	{"auth_", http.StatusUnauthorized},
	{"not_found_", http.StatusNotFound},
	{"upstream_", http.StatusBadGateway},
	{"internal_", http.StatusInternalServerError},
}

// HTTPStatus derives the response status from the code's class prefix.
// Every validation code, oversized payloads included, is a 400. Unknown
// classes map to 500.
func (c ErrorCode) HTTPStatus() int {
	for _, p := range statusByPrefix {
		if strings.HasPrefix(string(c), p.prefix) {
			return p.status
		}
	}
	return http.StatusInternalServerError
}

// IsValidation reports whether the code belongs to the client-facing
// validation class.
func (c ErrorCode) IsValidation() bool {
	return strings.HasPrefix(string(c), "validation_")
}

// IsConfiguration reports whether the code signals an operator-fixable
// configuration problem.
func (c ErrorCode) IsConfiguration() bool {
	return strings.HasPrefix(string(c), "config_")
}

// IsUpstream reports whether the code signals a failure of a remote service.
func (c ErrorCode) IsUpstream() bool {
	return strings.HasPrefix(string(c), "upstream_")
}

// AppError carries a classified failure from wherever it happened to the
// HTTP boundary. Err is kept for logs and errors.Is but never serialized.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus is shorthand for e.Code.HTTPStatus().
func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

// WithDetails returns a copy carrying the union of both detail maps. The
// receiver is left untouched.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	cp := *e
	cp.Details = merged
	return &cp
}

// NewAppError wraps err (which may be nil) under code.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails is NewAppError plus client-visible details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

// MissingField builds the validation error returned when a required event
// field could not be resolved.
func MissingField(field string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeValidationMissingField,
		"missing field "+field,
		nil,
		map[string]any{"field": field},
	)
}
