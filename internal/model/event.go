// internal/model/event.go
package model

import "time"

// StatusKind classifies operator-visible connection status lines
type StatusKind string

const (
	StatusReconnecting StatusKind = "reconnecting"
	StatusConnected    StatusKind = "connected"
	StatusNotConnected StatusKind = "not connected"
	StatusTxError      StatusKind = "tx error"
)

// StatusEvent is emitted on connection state changes and failed transmissions
type StatusEvent struct {
	Device    DeviceID   `json:"device_id,omitempty"`
	Kind      StatusKind `json:"kind"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewStatusEvent creates a status event stamped with the current time
func NewStatusEvent(device DeviceID, kind StatusKind, message string) StatusEvent {
	return StatusEvent{
		Device:    device,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}
