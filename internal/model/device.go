// internal/model/device.go
package model

import (
	"fmt"
	"strings"
)

// DeviceID identifies one configured serial device
type DeviceID string

// Identity is the transport address of a device. It does not change for the
// lifetime of a connection manager.
type Identity struct {
	Address  string `json:"address" mapstructure:"port"`
	BaudRate int    `json:"baud_rate" mapstructure:"baud_rate"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s@%d", i.Address, i.BaudRate)
}

// DeviceSpec binds a device id to its transport identity
type DeviceSpec struct {
	ID       DeviceID `json:"id" mapstructure:"id"`
	Identity `mapstructure:",squash"`
}

// ConnectionState represents the liveness state of a connection
type ConnectionState int32

const (
	StateClosed ConnectionState = iota
	StateOpen
	StateDegraded
	StateDead
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateDegraded:
		return "DEGRADED"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON payloads
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseDeviceSpec parses "id=port[@baud]". A missing baud falls back to
// defaultBaud.
func ParseDeviceSpec(s string, defaultBaud int) (DeviceSpec, error) {
	id, rest, ok := strings.Cut(s, "=")
	if !ok || id == "" || rest == "" {
		return DeviceSpec{}, fmt.Errorf("device spec %q: expected id=port[@baud]", s)
	}

	spec := DeviceSpec{ID: DeviceID(id), Identity: Identity{Address: rest, BaudRate: defaultBaud}}
	if addr, baud, ok := strings.Cut(rest, "@"); ok {
		var rate int
		if _, err := fmt.Sscanf(baud, "%d", &rate); err != nil || rate <= 0 {
			return DeviceSpec{}, fmt.Errorf("device spec %q: invalid baud rate %q", s, baud)
		}
		spec.Address = addr
		spec.BaudRate = rate
	}
	return spec, nil
}
