// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned for a missing address or unsupported baud
	// rate. It is never retried.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrTransport marks open, read and write failures of the underlying device
	ErrTransport = errors.New("transport error")

	// ErrReconnectExhausted is returned once the reconnect budget is spent
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotConnected is a transport error raised when no handle is open
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrTransport)

	// ErrClosed is returned by operations on a closed connection manager
	ErrClosed = errors.New("connection closed")
)

// TransportError describes a failed device operation
type TransportError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

// Unwrap exposes both the cause and ErrTransport to errors.Is
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// NewTransportError wraps err as a transport failure of op on address
func NewTransportError(op, address string, err error) error {
	return &TransportError{Op: op, Address: address, Err: err}
}

// InvalidParameterf formats an ErrInvalidParameter error
func InvalidParameterf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// IsTransport reports whether err should trigger mark-dead and reconnect
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
