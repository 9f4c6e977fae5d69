// internal/monitor/shutdown.go
package monitor

import (
	"context"

	"go.uber.org/atomic"
)

// RunState is the monotonic lifecycle of a shutdown signal
type RunState int32

const (
	Running RunState = iota
	Stopping
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON payloads
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Shutdown is a cancellation signal that moves running -> stopping ->
// stopped and never back. Request may be called from any goroutine, any
// number of times.
type Shutdown struct {
	state  *atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// NewShutdown creates a running signal. Cancelling parent requests shutdown
// as well.
func NewShutdown(parent context.Context) *Shutdown {
	ctx, cancel := context.WithCancel(parent)
	s := &Shutdown{
		state:  atomic.NewInt32(int32(Running)),
		ctx:    ctx,
		cancel: cancel,
	}
	go func() {
		<-ctx.Done()
		s.state.CAS(int32(Running), int32(Stopping))
	}()
	return s
}

// Request moves the signal to stopping. It returns true for the call that
// performed the transition.
func (s *Shutdown) Request() bool {
	won := s.state.CAS(int32(Running), int32(Stopping))
	s.cancel()
	return won
}

// MarkStopped records that every worker observed the signal
func (s *Shutdown) MarkStopped() {
	s.Request()
	s.state.Store(int32(Stopped))
}

// State returns the current run state
func (s *Shutdown) State() RunState {
	return RunState(s.state.Load())
}

// Context is cancelled once shutdown is requested
func (s *Shutdown) Context() context.Context {
	return s.ctx
}

// Done is closed once shutdown is requested
func (s *Shutdown) Done() <-chan struct{} {
	return s.ctx.Done()
}
