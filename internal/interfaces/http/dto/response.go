package dto

import (
	"github.com/xpgateway/backend/internal/domain/gateway"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	ErrorID    string             `json:"error_id,omitempty"`
	RetryAfter int                `json:"retry_after,omitempty"`
	RequestID  string             `json:"request_id,omitempty"`
	Details    []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes one rejected field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response carrying the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// NewValidationErrorResponse creates a 400 response listing the rejected fields
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	resp := NewErrorResponseWithRequestID(ErrCodeValidation, message, requestID)
	resp.Error.Details = details
	return resp
}

// NewGatewayErrorResponse renders a pipeline failure. Internal errors never
// expose their message.
func NewGatewayErrorResponse(err *gateway.Error, errorID string) Response {
	message := err.Message
	if err.Kind == gateway.KindInternal {
		message = "an unexpected error occurred"
	}
	resp := NewErrorResponse(err.Code, message)
	resp.Error.ErrorID = errorID
	resp.Error.RetryAfter = err.RetryAfterSeconds()
	return resp
}
