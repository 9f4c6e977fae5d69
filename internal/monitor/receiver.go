// internal/monitor/receiver.go
package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sercom/internal/model"
	"sercom/internal/protocol"
)

// Conn is the view of a connection manager used by the pipelines
type Conn interface {
	ReadLine(timeout time.Duration) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	MarkDead(cause error) bool
	Reconnect(ctx context.Context) error
	ReadTimeout() time.Duration
}

// Receiver pulls records off a connection and hands them to a sink
type Receiver struct {
	device     model.DeviceID
	conn       Conn
	sink       Sink
	timestamps bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewReceiver creates a receive pipeline
func NewReceiver(device model.DeviceID, conn Conn, sink Sink, timestamps bool, logger *zap.Logger) *Receiver {
	return &Receiver{
		device:     device,
		conn:       conn,
		sink:       sink,
		timestamps: timestamps,
		logger:     logger.With(zap.String("pipeline", "receive")),
		now:        time.Now,
	}
}

// Run loops until ctx is cancelled. It returns a non-nil error only for
// conditions that end the device's session, such as an exhausted reconnect
// budget.
func (r *Receiver) Run(ctx context.Context) error {
	timeout := r.conn.ReadTimeout()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.conn.ReadLine(timeout)
		if err != nil {
			if errors.Is(err, protocol.ErrClosed) {
				return nil
			}
			if !protocol.IsTransport(err) {
				return err
			}

			r.conn.MarkDead(err)
			if err := r.conn.Reconnect(ctx); err != nil {
				if ctx.Err() != nil || errors.Is(err, protocol.ErrClosed) {
					return nil
				}
				return err
			}
			continue
		}
		if line == nil {
			continue
		}

		var capturedAt time.Time
		if r.timestamps {
			capturedAt = r.now()
		}

		rec := model.NewRecord(r.device, line, capturedAt)
		if err := r.sink.Deliver(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("Sink rejected record", zap.Error(err))
		}
	}
}
