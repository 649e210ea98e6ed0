package ipc

import (
	"errors"
	"fmt"
)

// Error codes carried in ErrorDetail.
const (
	CodeChannelNotFound = "CHANNEL_NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

// ChannelError is a failure reported across the process boundary.
type ChannelError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether a caller may retry the same invocation.
func (e *ChannelError) Retryable() bool {
	return e.Code == CodeInternal || e.Code == CodeUnavailable
}

// NewChannelError creates a ChannelError.
func NewChannelError(code, message string) *ChannelError {
	return &ChannelError{Code: code, Message: message}
}

// Errorf creates a ChannelError with a formatted message.
func Errorf(code, format string, args ...interface{}) *ChannelError {
	return &ChannelError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsChannelError converts any error into a ChannelError. Errors that are not
// already ChannelErrors become INTERNAL_ERROR.
func AsChannelError(err error) *ChannelError {
	if err == nil {
		return nil
	}
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr
	}
	return &ChannelError{Code: CodeInternal, Message: err.Error()}
}

// Detail renders the error for the response envelope.
func (e *ChannelError) Detail() *ErrorDetail {
	return &ErrorDetail{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		Retryable: e.Retryable(),
	}
}
