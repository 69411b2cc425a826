package dto

import (
	"net/http"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// Admin API error codes. Gateway pipeline codes live in the domain package
// and share the ERR_ prefix.
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = gateway.CodeInternal
	// ErrCodeValidation is used when a request body fails validation
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = gateway.CodeBadRequest
	// ErrCodeUnauthorized is used when the admin token is missing or invalid
	ErrCodeUnauthorized = gateway.CodeUnauthorized
	// ErrCodeForbidden is used when the admin token lacks the admin scope
	ErrCodeForbidden = "ERR_FORBIDDEN"
	// ErrCodeNotFound is used when an admin resource does not exist
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeRateLimited is used when the admin API is called too often
	ErrCodeRateLimited = gateway.CodeRateLimited
	// ErrCodeRequestTooLarge is used when an admin body exceeds the limit
	ErrCodeRequestTooLarge = gateway.CodePayloadTooLarge
	// ErrCodeUnavailable is used when an optional admin component is not configured
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps admin error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeUnauthorized:    http.StatusUnauthorized,
	ErrCodeForbidden:       http.StatusForbidden,
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
