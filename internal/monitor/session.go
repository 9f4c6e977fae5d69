// internal/monitor/session.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sercom/internal/connection"
	"sercom/internal/model"
)

// SessionConfig represents session coordinator configuration
type SessionConfig struct {
	Timestamps  bool
	JoinTimeout time.Duration
	InputBuffer int
}

// SessionStatus is a snapshot of a running session
type SessionStatus struct {
	ID       string                   `json:"id"`
	Device   model.DeviceID           `json:"device_id"`
	Identity model.Identity           `json:"identity"`
	State    model.ConnectionState    `json:"state"`
	RunState RunState                 `json:"run_state"`
	Budget   connection.Budget        `json:"budget"`
	Stats    connection.StatsSnapshot `json:"stats"`
	Error    string                   `json:"error,omitempty"`
}

// Session runs the receive and transmit pipelines of one device and owns
// their shared shutdown signal
type Session struct {
	id     uuid.UUID
	conn   *connection.Manager
	sink   Sink
	status StatusFunc
	input  *CommandInput
	config SessionConfig
	logger *zap.Logger

	shutdown *Shutdown
	rxDone   chan struct{}
	txDone   chan struct{}
	stopOnce sync.Once

	errMutex sync.Mutex
	err      error
}

// NewSession creates a session for conn delivering records to sink
func NewSession(conn *connection.Manager, sink Sink, status StatusFunc, config SessionConfig, logger *zap.Logger) *Session {
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 2 * time.Second
	}

	id := uuid.New()
	return &Session{
		id:     id,
		conn:   conn,
		sink:   sink,
		status: status,
		input:  NewCommandInput(config.InputBuffer),
		config: config,
		logger: logger.With(
			zap.String("session_id", id.String()),
			zap.String("device_id", string(conn.Device())),
		),
	}
}

// ID returns the session id
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Device returns the device this session serves
func (s *Session) Device() model.DeviceID {
	return s.conn.Device()
}

// Start opens the connection and launches both pipelines. It fails when the
// device cannot be acquired.
func (s *Session) Start(ctx context.Context) error {
	if s.shutdown != nil {
		return fmt.Errorf("session %s already started", s.id)
	}

	if err := s.conn.EnsureOpen(ctx); err != nil {
		s.logger.Error("Failed to open device", zap.Error(err))
		return err
	}

	s.shutdown = NewShutdown(ctx)
	s.rxDone = make(chan struct{})
	s.txDone = make(chan struct{})
	runCtx := s.shutdown.Context()

	receiver := NewReceiver(s.conn.Device(), s.conn, s.sink, s.config.Timestamps, s.logger)
	transmitter := NewTransmitter(s.conn.Device(), s.conn, s.input, s.status, func() { s.shutdown.Request() }, s.logger)

	go func() {
		defer close(s.rxDone)
		if err := receiver.Run(runCtx); err != nil {
			s.logger.Error("Receive pipeline ended", zap.Error(err))
			s.setErr(err)
			s.shutdown.Request()
		}
	}()

	go func() {
		defer close(s.txDone)
		if err := transmitter.Run(runCtx); err != nil {
			s.logger.Error("Transmit pipeline ended", zap.Error(err))
			s.setErr(err)
			s.shutdown.Request()
		}
	}()

	s.logger.Info("Session started", zap.String("identity", s.conn.Identity().String()))
	return nil
}

// Submit queues an operator line for transmission
func (s *Session) Submit(ctx context.Context, text string) error {
	return s.input.Submit(ctx, text)
}

// CloseInput signals end of operator input, which ends the session
func (s *Session) CloseInput() {
	s.input.Close()
}

// Done is closed once shutdown has been requested by any party
func (s *Session) Done() <-chan struct{} {
	if s.shutdown == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.shutdown.Done()
}

// Stop requests shutdown, waits a bounded time for each pipeline and closes
// the connection last. Pipelines that do not exit in time are abandoned.
func (s *Session) Stop() {
	if s.shutdown == nil {
		s.conn.Close()
		return
	}

	s.stopOnce.Do(func() {
		s.shutdown.Request()

		s.join("receive", s.rxDone)
		s.join("transmit", s.txDone)

		s.conn.Close()
		s.shutdown.MarkStopped()
		s.logger.Info("Session stopped")
	})
}

func (s *Session) join(name string, done <-chan struct{}) {
	timer := time.NewTimer(s.config.JoinTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("Pipeline did not exit in time, abandoning it",
			zap.String("pipeline", name),
			zap.Duration("join_timeout", s.config.JoinTimeout),
		)
	}
}

// RunState returns the session's shutdown state
func (s *Session) RunState() RunState {
	if s.shutdown == nil {
		return Stopped
	}
	return s.shutdown.State()
}

// Err returns the condition that ended the session, if any
func (s *Session) Err() error {
	s.errMutex.Lock()
	defer s.errMutex.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMutex.Lock()
	defer s.errMutex.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Status returns a snapshot of the session
func (s *Session) Status() SessionStatus {
	status := SessionStatus{
		ID:       s.id.String(),
		Device:   s.conn.Device(),
		Identity: s.conn.Identity(),
		State:    s.conn.State(),
		RunState: s.RunState(),
		Budget:   s.conn.Budget(),
		Stats:    s.conn.Stats(),
	}
	if err := s.Err(); err != nil {
		status.Error = err.Error()
	}
	return status
}

// Sessions is a fixed set of sessions addressable by device id
type Sessions []*Session

// Submit routes an operator line to the session serving device
func (ss Sessions) Submit(ctx context.Context, device model.DeviceID, text string) error {
	for _, s := range ss {
		if s.Device() == device {
			return s.Submit(ctx, text)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
}

// Devices returns the status of every session
func (ss Sessions) Devices() []SessionStatus {
	statuses := make([]SessionStatus, 0, len(ss))
	for _, s := range ss {
		statuses = append(statuses, s.Status())
	}
	return statuses
}
