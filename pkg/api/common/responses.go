package common

// ErrorResponse represents a standard error response used across all endpoints
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewError builds an error body with a trace id for request correlation.
func NewError(code int, message, traceID string) ErrorResponse {
	return ErrorResponse{Code: code, Message: message, TraceID: traceID}
}

// NewMessage builds an error body carrying only the error text.
func NewMessage(code int, message string) ErrorResponse {
	return ErrorResponse{Code: code, Message: message}
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
