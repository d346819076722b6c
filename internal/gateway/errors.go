// Package gateway - errors.go defines the user-facing error taxonomy.
//
// DESIGN: every refusal or failure the gateway reports crosses the package
// as a typed *Error carrying a closed ErrorCode. Auth, validation, rate and
// budget messages are already user-safe and pass through verbatim;
// execution failures are sanitized here and the route-by-route detail goes
// to the server log and the run record only.
package gateway

import (
	"net/http"
	"strings"
	"time"
)

// ErrorCode classifies a gateway failure.
type ErrorCode string

const (
	CodeAuthMissing         ErrorCode = "AUTH_MISSING"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeAuthExpired         ErrorCode = "AUTH_EXPIRED"
	CodeAuthProfileNotFound ErrorCode = "AUTH_PROFILE_NOT_FOUND"

	CodeInputMalformed  ErrorCode = "INPUT_MALFORMED"
	CodeInputSchema     ErrorCode = "INPUT_SCHEMA_VIOLATION"
	CodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	CodeKindUnsupported ErrorCode = "AGENT_KIND_UNSUPPORTED"

	CodeRateLimited    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeBudgetExceeded ErrorCode = "TOKEN_BUDGET_EXCEEDED"

	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeReservationNotFound is internal: a commit raced a sweep or hit a
	// reservation that was already resolved. Callers see a 500.
	CodeReservationNotFound ErrorCode = "RESERVATION_NOT_FOUND"

	// CodeInternal covers store and infrastructure faults with no better
	// classification.
	CodeInternal ErrorCode = "INTERNAL"
)

// Error is the gateway failure contract.
type Error struct {
	Code    ErrorCode
	Message string

	// RetryAfter is set for RATE_LIMIT_EXCEEDED only.
	RetryAfter time.Duration

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.err }

// NewError builds a gateway error with a user-safe message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// wrapError keeps the cause for server-side logs without exposing it.
func wrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// HTTPStatus maps an error code to its response status.
func (c ErrorCode) HTTPStatus() int {
	switch {
	case strings.HasPrefix(string(c), "AUTH_"):
		return http.StatusUnauthorized
	case c == CodeRateLimited:
		return http.StatusTooManyRequests
	case c == CodeBudgetExceeded:
		return http.StatusPaymentRequired
	case strings.HasPrefix(string(c), "INPUT_"), strings.HasPrefix(string(c), "AGENT_"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
