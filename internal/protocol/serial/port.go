// internal/protocol/serial/port.go
package serial

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of go.bug.st/serial.Port used by a Transport
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opener acquires the device at address
type Opener func(address string, mode *serial.Mode) (Port, error)

// OpenPort opens a real serial device
func OpenPort(address string, mode *serial.Mode) (Port, error) {
	return serial.Open(address, mode)
}

// supportedBaudRates mirrors the standard POSIX and common extended rates
var supportedBaudRates = map[int]struct{}{
	50: {}, 75: {}, 110: {}, 134: {}, 150: {}, 200: {}, 300: {}, 600: {},
	1200: {}, 1800: {}, 2400: {}, 4800: {}, 9600: {}, 19200: {}, 38400: {},
	57600: {}, 115200: {}, 230400: {}, 460800: {}, 500000: {}, 576000: {},
	921600: {}, 1000000: {}, 1152000: {}, 1500000: {}, 2000000: {},
	2500000: {}, 3000000: {}, 3500000: {}, 4000000: {},
}

// IsSupportedBaudRate reports whether rate can be configured on a port
func IsSupportedBaudRate(rate int) bool {
	_, ok := supportedBaudRates[rate]
	return ok
}
