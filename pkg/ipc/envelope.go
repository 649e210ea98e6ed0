package ipc

import "encoding/json"

// InvokeRequest is the JSON envelope for an invoke call.
type InvokeRequest struct {
	ID      string             `json:"id"`
	Channel Channel            `json:"channel"`
	Args    json.RawMessage    `json:"args,omitempty"`
	Ctx     *InvocationContext `json:"ctx,omitempty"`
}

// InvokeResponse is the JSON envelope for an invoke reply. Result holds the
// channel's response record, and is still present when a channel reports a
// failure in-band.
type InvokeResponse struct {
	ID      string       `json:"id"`
	Channel Channel      `json:"channel"`
	Ok      bool         `json:"ok"`
	Result  interface{}  `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	RequestID string `json:"requestId,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// SendMessage is the JSON envelope for a send-only notification.
type SendMessage struct {
	Channel Channel         `json:"channel"`
	Args    json.RawMessage `json:"args,omitempty"`
}
