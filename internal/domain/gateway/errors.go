package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a pipeline failure. Each kind maps to one HTTP status.
type ErrorKind string

const (
	// KindUnauthorized means the credential is missing, invalid or expired
	KindUnauthorized ErrorKind = "unauthorized"
	// KindTooManyRequests means a rate limit dimension denied the request
	KindTooManyRequests ErrorKind = "too_many_requests"
	// KindNotFound means no route or service matched
	KindNotFound ErrorKind = "not_found"
	// KindServiceUnavailable means the circuit is open or no healthy instance exists
	KindServiceUnavailable ErrorKind = "service_unavailable"
	// KindBadRequest means the request failed security validation
	KindBadRequest ErrorKind = "bad_request"
	// KindPayloadTooLarge means the request body exceeded the configured limit
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	// KindExecutionFailure means the downstream call failed
	KindExecutionFailure ErrorKind = "execution_failure"
	// KindClientCancelled means the caller went away before a response was produced
	KindClientCancelled ErrorKind = "client_cancelled"
	// KindInternal is used for unexpected failures
	KindInternal ErrorKind = "internal"
)

// StatusClientClosedRequest is recorded when the caller disconnects mid-pipeline.
const StatusClientClosedRequest = 499

// Error codes exposed in the error envelope
const (
	CodeUnauthorized       = "ERR_UNAUTHORIZED"
	CodeTokenExpired       = "ERR_TOKEN_EXPIRED"
	CodeRateLimited        = "ERR_RATE_LIMITED"
	CodeRouteNotFound      = "ERR_ROUTE_NOT_FOUND"
	CodeServiceNotFound    = "ERR_SERVICE_NOT_FOUND"
	CodeCircuitOpen        = "ERR_CIRCUIT_OPEN"
	CodeNoHealthyInstance  = "ERR_NO_HEALTHY_INSTANCE"
	CodeBadRequest         = "ERR_BAD_REQUEST"
	CodeUnsupportedMedia   = "ERR_UNSUPPORTED_CONTENT_TYPE"
	CodeUnsupportedVersion = "ERR_UNSUPPORTED_API_VERSION"
	CodePayloadTooLarge    = "ERR_PAYLOAD_TOO_LARGE"
	CodeUpstreamFailure    = "ERR_UPSTREAM_FAILURE"
	CodeUpstreamTimeout    = "ERR_UPSTREAM_TIMEOUT"
	CodeClientCancelled    = "ERR_CLIENT_CANCELLED"
	CodeInternal           = "ERR_INTERNAL"
)

// Error is the typed failure raised by every pipeline stage.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string

	// Status overrides the kind's default status (used by ExecutionFailure for 502/504)
	Status int
	// RetryAfter is advisory and only meaningful for 429 and 503
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a gateway error of the same kind.
// This lets callers write errors.Is(err, gateway.ErrUnauthorized).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// HTTPStatus returns the status code the error is rendered with
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.HTTPStatus()
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, 0 when unset
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// HTTPStatus returns the default status for the kind
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindBadRequest:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindExecutionFailure:
		return http.StatusBadGateway
	case KindClientCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel errors for errors.Is comparisons
var (
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrTooManyRequests    = &Error{Kind: KindTooManyRequests}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrBadRequest         = &Error{Kind: KindBadRequest}
	ErrPayloadTooLarge    = &Error{Kind: KindPayloadTooLarge}
	ErrExecutionFailure   = &Error{Kind: KindExecutionFailure}
	ErrClientCancelled    = &Error{Kind: KindClientCancelled}
)

// NewUnauthorized creates an Unauthorized error
func NewUnauthorized(message string, cause error) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: message, Cause: cause}
}

// NewTooManyRequests creates a TooManyRequests error with a retry advisory
func NewTooManyRequests(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindTooManyRequests, Code: CodeRateLimited, Message: message, RetryAfter: retryAfter}
}

// NewNotFound creates a NotFound error
func NewNotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// NewServiceUnavailable creates a ServiceUnavailable error
func NewServiceUnavailable(code, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindServiceUnavailable, Code: code, Message: message, RetryAfter: retryAfter}
}

// NewBadRequest creates a BadRequest error
func NewBadRequest(code, message string) *Error {
	return &Error{Kind: KindBadRequest, Code: code, Message: message}
}

// NewPayloadTooLarge creates a PayloadTooLarge error
func NewPayloadTooLarge(limit int64) *Error {
	return &Error{
		Kind:    KindPayloadTooLarge,
		Code:    CodePayloadTooLarge,
		Message: fmt.Sprintf("request body exceeds %d bytes", limit),
	}
}

// NewExecutionFailure creates an ExecutionFailure error. Timeouts render as 504.
func NewExecutionFailure(message string, timeout bool, cause error) *Error {
	e := &Error{
		Kind:    KindExecutionFailure,
		Code:    CodeUpstreamFailure,
		Message: message,
		Status:  http.StatusBadGateway,
		Cause:   cause,
	}
	if timeout {
		e.Code = CodeUpstreamTimeout
		e.Status = http.StatusGatewayTimeout
	}
	return e
}

// NewClientCancelled creates the error recorded when the caller disconnects
func NewClientCancelled(cause error) *Error {
	return &Error{Kind: KindClientCancelled, Code: CodeClientCancelled, Message: "client-cancelled", Cause: cause}
}

// AsError converts any error into a gateway error. Unknown errors become Internal
// so the caller never sees the raw message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "an unexpected error occurred", Cause: err}
}
