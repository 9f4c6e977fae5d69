// internal/monitor/transmitter.go
package monitor

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"sercom/internal/model"
	"sercom/internal/protocol"
)

// Transmitter writes operator lines to a connection, one at a time, in the
// order they were entered
type Transmitter struct {
	device model.DeviceID
	conn   Conn
	input  InputSource
	status StatusFunc
	onEnd  func()
	logger *zap.Logger
}

// NewTransmitter creates a transmit pipeline. onEnd is invoked when input
// reaches end-of-input or is interrupted.
func NewTransmitter(device model.DeviceID, conn Conn, input InputSource, status StatusFunc, onEnd func(), logger *zap.Logger) *Transmitter {
	return &Transmitter{
		device: device,
		conn:   conn,
		input:  input,
		status: status,
		onEnd:  onEnd,
		logger: logger.With(zap.String("pipeline", "transmit")),
	}
}

// Run loops until input ends or ctx is cancelled. Failed writes are reported
// and never retried.
func (t *Transmitter) Run(ctx context.Context) error {
	for {
		text, err := t.input.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrInterrupted) {
				t.logger.Info("Input ended", zap.Error(err))
				if t.onEnd != nil {
					t.onEnd()
				}
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		cmd := model.Command{Text: text}
		if err := t.conn.Write(ctx, cmd.Bytes()); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			t.logger.Warn("Command not transmitted", zap.String("command", text), zap.Error(err))
			if t.status != nil {
				t.status(model.NewStatusEvent(t.device, model.StatusTxError, err.Error()))
			}
			if protocol.IsTransport(err) {
				t.conn.MarkDead(err)
			}
		}
	}
}
