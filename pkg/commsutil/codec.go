package commsutil

import (
	"encoding/json"
	"fmt"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// DecodeInvokeRequest decodes an invoke envelope. A request without a channel
// name is rejected here, before it reaches the dispatcher.
func DecodeInvokeRequest(data []byte) (*ipc.InvokeRequest, error) {
	var req ipc.InvokeRequest
	if err := DecodePayload(data, &req); err != nil {
		return nil, fmt.Errorf("commsutil:codec - invalid invoke envelope: %w", err)
	}
	if req.Channel == "" {
		return &req, fmt.Errorf("commsutil:codec - invoke envelope has no channel")
	}
	return &req, nil
}

// DecodeSendMessage decodes a send-only envelope.
func DecodeSendMessage(data []byte) (*ipc.SendMessage, error) {
	var msg ipc.SendMessage
	if err := DecodePayload(data, &msg); err != nil {
		return nil, fmt.Errorf("commsutil:codec - invalid send envelope: %w", err)
	}
	if msg.Channel == "" {
		return nil, fmt.Errorf("commsutil:codec - send envelope has no channel")
	}
	return &msg, nil
}
