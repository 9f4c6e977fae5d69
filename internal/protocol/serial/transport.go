// internal/protocol/serial/transport.go
package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"sercom/internal/protocol"
)

const (
	// maxLineLength bounds the partial line buffer. A longer run without a
	// newline is delivered as a line of its own.
	maxLineLength = 4096

	readChunkSize = 1024
)

// Config represents serial transport configuration
type Config struct {
	Address     string        `json:"address"`
	BaudRate    int           `json:"baud_rate"`
	ReadTimeout time.Duration `json:"read_timeout"`
	ResetOnOpen bool          `json:"reset_on_open"`
	SettleDelay time.Duration `json:"settle_delay"`
}

// Transport owns one serial device. It is single-use: once closed it cannot
// be opened again.
type Transport struct {
	config *Config
	opener Opener
	logger *zap.Logger

	mutex  sync.RWMutex
	port   Port
	isOpen bool
	closed bool

	readMutex sync.Mutex
	pending   []byte
	chunk     []byte
}

// NewTransport validates the configuration and creates an unopened transport
func NewTransport(config *Config, opener Opener, logger *zap.Logger) (*Transport, error) {
	if config.Address == "" {
		return nil, protocol.InvalidParameterf("address is required")
	}
	if !IsSupportedBaudRate(config.BaudRate) {
		return nil, protocol.InvalidParameterf("unsupported baud rate %d", config.BaudRate)
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}
	if opener == nil {
		opener = OpenPort
	}

	return &Transport{
		config: config,
		opener: opener,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Address),
		),
		chunk: make([]byte, readChunkSize),
	}, nil
}

// Open acquires the device, pulses the control lines and flushes both
// directions
func (t *Transport) Open(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return protocol.ErrClosed
	}
	if t.isOpen {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := t.opener(t.config.Address, mode)
	if err != nil {
		t.logger.Debug("Failed to open serial port", zap.Error(err))
		return protocol.NewTransportError("open", t.config.Address, err)
	}

	if err := port.SetReadTimeout(t.config.ReadTimeout); err != nil {
		t.release(port)
		return protocol.NewTransportError("set read timeout", t.config.Address, err)
	}

	if t.config.ResetOnOpen {
		if err := t.pulseControlLines(ctx, port); err != nil {
			t.release(port)
			return err
		}
	}

	if err := port.ResetInputBuffer(); err != nil {
		t.release(port)
		return protocol.NewTransportError("reset input buffer", t.config.Address, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		t.release(port)
		return protocol.NewTransportError("reset output buffer", t.config.Address, err)
	}

	t.port = port
	t.isOpen = true

	t.logger.Info("Serial port opened", zap.Int("baud_rate", t.config.BaudRate))
	return nil
}

// pulseControlLines holds the target in reset through RTS with DTR low, then
// releases it, so that most microcontroller boards restart into a known state.
// Ports without modem control lines (ptys, some adapters) only log a warning.
func (t *Transport) pulseControlLines(ctx context.Context, port Port) error {
	steps := []struct {
		dtr, rts bool
	}{
		{dtr: false, rts: true},
		{dtr: false, rts: false},
	}

	for _, step := range steps {
		if err := port.SetDTR(step.dtr); err != nil {
			t.logger.Warn("DTR control not available", zap.Error(err))
			return nil
		}
		if err := port.SetRTS(step.rts); err != nil {
			t.logger.Warn("RTS control not available", zap.Error(err))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.config.SettleDelay):
		}
	}
	return nil
}

// Close releases the device. It never fails the caller; release errors are
// only logged.
func (t *Transport) Close() {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return
	}
	port := t.port
	wasOpen := t.isOpen
	t.closed = true
	t.port = nil
	t.isOpen = false
	t.mutex.Unlock()

	if wasOpen && port != nil {
		t.release(port)
		t.logger.Info("Serial port closed")
	}

	t.DiscardPending()
}

func (t *Transport) release(port Port) {
	if err := port.Close(); err != nil {
		t.logger.Warn("Failed to close serial port", zap.Error(err))
	}
}

// IsOpen returns whether the transport holds an open device
func (t *Transport) IsOpen() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.isOpen && t.port != nil
}

func (t *Transport) openPort() (Port, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.isOpen || t.port == nil {
		return nil, protocol.ErrNotConnected
	}
	return t.port, nil
}

// ReadLine returns the next newline-terminated byte sequence, including the
// newline. It returns nil without error when no complete line arrived within
// timeout.
func (t *Transport) ReadLine(timeout time.Duration) ([]byte, error) {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if line := t.nextLine(); line != nil {
			return line, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}

		port, err := t.openPort()
		if err != nil {
			return nil, err
		}

		n, err := port.Read(t.chunk)
		if n > 0 {
			t.pending = append(t.pending, t.chunk[:n]...)
		}
		if err != nil {
			t.pending = nil
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, protocol.NewTransportError("read", t.config.Address, err)
		}
	}
}

func (t *Transport) nextLine() []byte {
	idx := bytes.IndexByte(t.pending, '\n')
	if idx < 0 {
		if len(t.pending) < maxLineLength {
			return nil
		}
		idx = runeBoundary(t.pending, maxLineLength) - 1
	}

	line := make([]byte, idx+1)
	copy(line, t.pending[:idx+1])
	t.pending = t.pending[idx+1:]
	if len(t.pending) == 0 {
		t.pending = nil
	}
	return line
}

// runeBoundary returns the cut point for an over-long run, moved back so a
// multibyte rune is not divided between two lines. Invalid sequences are
// cut at limit.
func runeBoundary(data []byte, limit int) int {
	for i := limit - 1; i > 0 && i > limit-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:limit]) {
			return i
		}
		break
	}
	return limit
}

// DiscardPending drops any partially received line
func (t *Transport) DiscardPending() {
	t.readMutex.Lock()
	t.pending = nil
	t.readMutex.Unlock()
}

// Write writes data in full or fails. It never retries.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	port, err := t.openPort()
	if err != nil {
		return err
	}

	n, err := port.Write(data)
	if err != nil {
		return protocol.NewTransportError("write", t.config.Address, err)
	}
	if n != len(data) {
		return protocol.NewTransportError("write", t.config.Address,
			fmt.Errorf("%w: wrote %d of %d bytes", io.ErrShortWrite, n, len(data)))
	}

	t.logger.Debug("Data written to serial port", zap.Int("bytes_written", n))
	return nil
}

// Config returns the transport configuration
func (t *Transport) Config() *Config {
	return t.config
}
