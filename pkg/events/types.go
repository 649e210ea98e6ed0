// Package events defines event types and publisher interfaces for desktop change events.
package events

import "time"

// Event topics.
const (
	TopicDappsChanged          = "dapps.changed"
	TopicProtocolBindings      = "dapps.protocol-bindings"
	TopicAppStateChanged       = "app.state-changed"
	TopicProxyApplied          = "proxy.applied"
	TopicActiveTabAnimating    = "activetab.animating"
	TopicDeviceSelectRequested = "device.select-requested"
	TopicOpenExternalURL       = "app.open-external-url"
	TopicAppReset              = "app.reset"
)

// DesktopEvent is emitted when privileged-side state changes or when the shell
// must act on behalf of the UI.
type DesktopEvent struct {
	Topic     string      `json:"topic"`
	Origins   []string    `json:"origins,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(topic string, payload interface{}, origins ...string) *DesktopEvent {
	return &DesktopEvent{
		Topic:     topic,
		Origins:   origins,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
