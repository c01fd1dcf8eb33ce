package response

import (
	"errors"
	"net/http"
	"strings"
)

const (
	// General & System
	ErrSystem         = "SYS_INTERNAL_ERROR"
	ErrBadRequest     = "SYS_BAD_REQUEST"
	ErrServiceUnavail = "SYS_SERVICE_UNAVAILABLE"
	ErrGatewayTimeout = "SYS_GATEWAY_TIMEOUT"

	// Validation
	ErrValidation    = "VAL_INVALID_INPUT"
	ErrMissingField  = "VAL_MISSING_FIELD"
	ErrInvalidFormat = "VAL_INVALID_FORMAT"

	// Auth
	ErrMissingToken = "AUTH_MISSING_TOKEN"
	ErrInvalidToken = "AUTH_INVALID_TOKEN"
	ErrForbidden    = "AUTH_FORBIDDEN"

	// Resource / Data
	ErrNotFound        = "RES_NOT_FOUND"
	ErrAlreadyExists   = "RES_ALREADY_EXISTS"
	ErrConflict        = "RES_CONFLICT"
	ErrVersionMismatch = "RES_VERSION_MISMATCH"

	// Integrity: the stored order no longer matches its keyed digest.
	ErrIntegrityViolation = "RES_INTEGRITY_VIOLATION"

	// Business Logic
	ErrRuleViolation     = "BIZ_RULE_VIOLATION"
	ErrInsufficientStock = "BIZ_INSUFFICIENT_STOCK"
	ErrRateLimit         = "BIZ_RATE_LIMIT_EXCEEDED"
)

func MapStatus(code string) int {
	switch code {
	case ErrBadRequest, ErrValidation, ErrMissingField, ErrInvalidFormat:
		return http.StatusBadRequest

	case ErrMissingToken, ErrInvalidToken:
		return http.StatusUnauthorized

	case ErrForbidden:
		return http.StatusForbidden

	case ErrNotFound:
		return http.StatusNotFound

	case ErrAlreadyExists, ErrConflict, ErrVersionMismatch, ErrIntegrityViolation:
		return http.StatusConflict

	case ErrRateLimit:
		return http.StatusTooManyRequests

	case ErrRuleViolation, ErrInsufficientStock:
		return http.StatusUnprocessableEntity

	case ErrServiceUnavail, ErrGatewayTimeout:
		return http.StatusServiceUnavailable

	case ErrSystem:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Coded builds an error whose string starts with a machine-readable code.
// Code and MapStatus recover the code and HTTP status at the transport edge.
func Coded(code, message string) error {
	return errors.New(code + ": " + message)
}

// Code extracts the leading machine-readable code from an error produced by
// Coded or database.MapError. Unknown shapes map to ErrSystem.
func Code(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, ":"); i > 0 {
		candidate := msg[:i]
		if strings.HasPrefix(candidate, "SYS_") ||
			strings.HasPrefix(candidate, "VAL_") ||
			strings.HasPrefix(candidate, "AUTH_") ||
			strings.HasPrefix(candidate, "RES_") ||
			strings.HasPrefix(candidate, "BIZ_") {
			return candidate
		}
	}
	return ErrSystem
}
