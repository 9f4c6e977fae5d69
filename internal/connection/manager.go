// internal/connection/manager.go
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sercom/internal/model"
	"sercom/internal/protocol"
	"sercom/internal/protocol/serial"
)

// Handle is a single-use transport owned by a Manager
type Handle interface {
	Open(ctx context.Context) error
	Close()
	ReadLine(timeout time.Duration) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	DiscardPending()
}

// HandleFactory builds a fresh handle for every open attempt
type HandleFactory func() (Handle, error)

// StatusFunc receives operator-visible connection status changes
type StatusFunc func(model.StatusEvent)

// Config represents connection manager configuration
type Config struct {
	Identity    model.Identity
	ReadTimeout time.Duration
	ResetOnOpen bool
	SettleDelay time.Duration
	Backoff     time.Duration
	MaxAttempts int // 0 means unbounded
}

// Manager wraps a transport handle with a liveness state and a reconnect
// policy. It is the only component that opens or closes the device.
type Manager struct {
	device  model.DeviceID
	config  Config
	factory HandleFactory
	status  StatusFunc
	logger  *zap.Logger

	// lifecycle serializes open attempts
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   model.ConnectionState
	handle  Handle
	closing chan struct{}
	budget  Budget

	stats *Stats
}

// Option configures a Manager
type Option func(*Manager)

// WithHandleFactory replaces the serial transport factory
func WithHandleFactory(factory HandleFactory) Option {
	return func(m *Manager) { m.factory = factory }
}

// WithStatusFunc registers a status callback
func WithStatusFunc(fn StatusFunc) Option {
	return func(m *Manager) { m.status = fn }
}

// WithOpener builds serial transports through opener instead of the real
// device driver
func WithOpener(opener serial.Opener) Option {
	return func(m *Manager) { m.factory = m.serialFactory(opener) }
}

// NewManager creates a manager in the Closed state
func NewManager(device model.DeviceID, config Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if config.Identity.Address == "" {
		return nil, protocol.InvalidParameterf("address is required")
	}
	if !serial.IsSupportedBaudRate(config.Identity.BaudRate) {
		return nil, protocol.InvalidParameterf("unsupported baud rate %d", config.Identity.BaudRate)
	}
	if config.MaxAttempts < 0 {
		return nil, protocol.InvalidParameterf("max attempts must not be negative")
	}
	if config.Backoff <= 0 {
		config.Backoff = 3 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}

	m := &Manager{
		device:  device,
		config:  config,
		logger:  logger.With(zap.String("device_id", string(device)), zap.String("port", config.Identity.Address)),
		state:   model.StateClosed,
		closing: make(chan struct{}),
		budget:  Budget{MaxAttempts: config.MaxAttempts, Backoff: config.Backoff},
		stats:   newStats(),
	}
	m.factory = m.serialFactory(nil)

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) serialFactory(opener serial.Opener) HandleFactory {
	return func() (Handle, error) {
		return serial.NewTransport(&serial.Config{
			Address:     m.config.Identity.Address,
			BaudRate:    m.config.Identity.BaudRate,
			ReadTimeout: m.config.ReadTimeout,
			ResetOnOpen: m.config.ResetOnOpen,
			SettleDelay: m.config.SettleDelay,
		}, opener, m.logger)
	}
}

// Device returns the managed device id
func (m *Manager) Device() model.DeviceID {
	return m.device
}

// Identity returns the transport identity
func (m *Manager) Identity() model.Identity {
	return m.config.Identity
}

// ReadTimeout returns the per-call receive timeout
func (m *Manager) ReadTimeout() time.Duration {
	return m.config.ReadTimeout
}

// State returns the current liveness state
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Budget returns a snapshot of the reconnect budget
func (m *Manager) Budget() Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}

// Stats returns a snapshot of connection counters
func (m *Manager) Stats() StatsSnapshot {
	return m.stats.snapshot()
}

// EnsureOpen opens a fresh handle unless the manager is already Open
func (m *Manager) EnsureOpen(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	from := m.state
	if from == model.StateClosed {
		select {
		case <-m.closing:
			m.closing = make(chan struct{})
		default:
		}
	}
	m.mu.Unlock()

	return m.openLocked(ctx, from)
}

// openLocked runs the open sequence. The caller holds lifecycle. The result
// is discarded when the state moved away from "from" while opening.
func (m *Manager) openLocked(ctx context.Context, from model.ConnectionState) error {
	if from == model.StateOpen {
		return nil
	}

	handle, err := m.factory()
	if err != nil {
		return err
	}
	if err := handle.Open(ctx); err != nil {
		handle.Close()
		return err
	}

	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		handle.Close()
		return protocol.ErrClosed
	}
	previous := m.handle
	m.state = model.StateOpen
	m.handle = handle
	m.budget.Attempts = 0
	m.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	m.stats.opens.Inc()
	m.logger.Info("Device connected", zap.String("from_state", from.String()))
	return nil
}

// MarkDead declares a degraded connection dead, closes its handle and drops
// partial input. It returns false when there was nothing to mark.
func (m *Manager) MarkDead(cause error) bool {
	m.mu.Lock()
	if m.state != model.StateDegraded {
		m.mu.Unlock()
		return false
	}
	handle := m.handle
	m.handle = nil
	m.state = model.StateDead
	m.mu.Unlock()

	if handle != nil {
		handle.DiscardPending()
		handle.Close()
	}

	m.stats.deaths.Inc()
	m.logger.Warn("Device marked dead", zap.Error(cause))
	return true
}

// Reconnect retries the open sequence with a fixed backoff while the
// connection is Dead. It returns nil once Open, ErrReconnectExhausted when
// the budget is spent, ErrClosed after Close and ctx.Err() on cancellation.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	for {
		m.mu.Lock()
		state := m.state
		closing := m.closing
		budget := m.budget
		m.mu.Unlock()

		switch state {
		case model.StateClosed:
			return protocol.ErrClosed
		case model.StateOpen:
			return nil
		case model.StateDegraded:
			m.MarkDead(errors.New("reconnect requested"))
			continue
		}

		if budget.Exhausted() {
			m.notify(model.StatusNotConnected, fmt.Sprintf("gave up after %d attempts", budget.Attempts))
			m.logger.Error("Reconnect attempts exhausted", zap.Int("attempts", budget.Attempts))
			return fmt.Errorf("%s: %w", m.config.Identity, protocol.ErrReconnectExhausted)
		}

		m.notify(model.StatusReconnecting, fmt.Sprintf("attempt %d", budget.Attempts+1))

		timer := time.NewTimer(budget.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-closing:
			timer.Stop()
			return protocol.ErrClosed
		case <-timer.C:
		}

		m.mu.Lock()
		m.budget.Attempts++
		attempt := m.budget.Attempts
		m.mu.Unlock()

		err := m.openLocked(ctx, model.StateDead)
		if err == nil {
			m.stats.reconnects.Inc()
			m.notify(model.StatusConnected, "")
			return nil
		}
		if errors.Is(err, protocol.ErrClosed) {
			return err
		}

		m.logger.Debug("Reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// Close shuts the connection down from any state. It never fails.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == model.StateClosed {
		m.mu.Unlock()
		return
	}
	handle := m.handle
	m.handle = nil
	m.state = model.StateClosed
	close(m.closing)
	m.mu.Unlock()

	if handle != nil {
		handle.Close()
	}
	m.logger.Info("Device connection closed")
}

// ReadLine reads the next line from the current handle. A transport failure
// moves the connection to Degraded; the caller is expected to MarkDead and
// Reconnect.
func (m *Manager) ReadLine(timeout time.Duration) ([]byte, error) {
	handle, err := m.current()
	if err != nil {
		return nil, err
	}

	line, err := handle.ReadLine(timeout)
	if err != nil {
		if protocol.IsTransport(err) {
			m.degrade(handle, err)
		}
		return nil, err
	}
	if line != nil {
		m.stats.recordRead(len(line))
	}
	return line, nil
}

// Write sends data on the current handle without retrying
func (m *Manager) Write(ctx context.Context, data []byte) error {
	handle, err := m.current()
	if err != nil {
		return err
	}

	if err := handle.Write(ctx, data); err != nil {
		if protocol.IsTransport(err) {
			m.degrade(handle, err)
		}
		return err
	}
	m.stats.recordWrite(len(data))
	return nil
}

func (m *Manager) current() (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == model.StateClosed:
		return nil, protocol.ErrClosed
	case m.handle == nil:
		return nil, protocol.ErrNotConnected
	}
	return m.handle, nil
}

// degrade only applies to the handle that failed; a failure reported by a
// handle that was already replaced is ignored.
func (m *Manager) degrade(handle Handle, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != handle || m.state != model.StateOpen {
		return
	}
	m.state = model.StateDegraded
	m.stats.errors.Inc()
	m.logger.Warn("Device I/O failed", zap.Error(cause))
}

func (m *Manager) notify(kind model.StatusKind, message string) {
	if m.status == nil {
		return
	}
	m.status(model.NewStatusEvent(m.device, kind, message))
}
