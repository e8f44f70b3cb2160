package types

import "fmt"

// Wire-visible error types.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeInternal       = "internal_error"
)

// APIError is the error payload inside an ErrorResponse.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s (%s, param=%s)", e.Message, e.Type, e.Param)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Type)
}

// ErrorResponse is the JSON envelope for every error status.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError builds a 400-class error.
func NewInvalidRequestError(message string) *APIError {
	return &APIError{Message: message, Type: ErrorTypeInvalidRequest}
}

// NewUnknownModelError builds the 404 error for an unrecognized model name.
func NewUnknownModelError(model string) *APIError {
	return &APIError{
		Message: fmt.Sprintf("model %q not found", model),
		Type:    ErrorTypeInvalidRequest,
		Param:   "model",
	}
}

// NewNoServiceError builds the 404 error for when no service can take the
// request.
func NewNoServiceError() *APIError {
	return &APIError{
		Message: "no model service is available to handle this request",
		Type:    ErrorTypeInvalidRequest,
	}
}

// NewInternalError builds a 500-class error.
func NewInternalError(message string) *APIError {
	return &APIError{Message: message, Type: ErrorTypeInternal}
}
