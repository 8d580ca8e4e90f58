package realtime

import (
	"encoding/json"
	"time"
)

// Status values carried by system events.
const (
	StatusConnected       = "connected"
	StatusDisconnected    = "disconnected"
	StatusAuthenticated   = "authenticated"
	StatusAuthFailed      = "auth_failed"
	StatusError           = "error"
	StatusReconnecting    = "reconnecting"
	StatusReconnectFailed = "reconnect_failed"
)

// ErrMaxReconnectAttempts is the error text of a reconnect_failed event.
const ErrMaxReconnectAttempts = "Maximum reconnect attempts reached"

// SystemEvent is the payload the client publishes on CategorySystem to
// report its own lifecycle. Delay is in milliseconds.
type SystemEvent struct {
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"maxAttempts,omitempty"`
	Delay       int64  `json:"delay,omitempty"`
}

// DelayDuration returns Delay as a time.Duration.
func (e SystemEvent) DelayDuration() time.Duration {
	return time.Duration(e.Delay) * time.Millisecond
}

// DecodeSystemEvent decodes a system payload.
func DecodeSystemEvent(payload json.RawMessage) (SystemEvent, error) {
	var ev SystemEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

func (e SystemEvent) encode() json.RawMessage {
	// SystemEvent only holds strings and integers, Marshal cannot fail.
	data, _ := json.Marshal(e)
	return data
}
