// internal/monitor/sink.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"sercom/internal/connection"
	"sercom/internal/model"
)

// Sink consumes received records. Deliver must return within a bounded time
// or honour ctx.
type Sink interface {
	Deliver(ctx context.Context, rec model.Record) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, rec model.Record) error

// Deliver calls f
func (f SinkFunc) Deliver(ctx context.Context, rec model.Record) error {
	return f(ctx, rec)
}

// StatusFunc receives operator-visible status lines. It is the connection
// manager's callback type, so one function serves both.
type StatusFunc = connection.StatusFunc

// MultiSink delivers each record to every sink in order
type MultiSink []Sink

// Deliver implements Sink
func (m MultiSink) Deliver(ctx context.Context, rec model.Record) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Deliver(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConsoleSink writes formatted records and status lines to a terminal
type ConsoleSink struct {
	out       io.Writer
	formatter *Formatter
	mutex     sync.Mutex
}

// NewConsoleSink creates a console sink
func NewConsoleSink(out io.Writer, formatter *Formatter) *ConsoleSink {
	return &ConsoleSink{out: out, formatter: formatter}
}

// Deliver implements Sink
func (c *ConsoleSink) Deliver(_ context.Context, rec model.Record) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := io.WriteString(c.out, c.formatter.Format(rec))
	return err
}

// Status prints a status line
func (c *ConsoleSink) Status(event model.StatusEvent) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	fmt.Fprint(c.out, c.formatter.FormatStatus(event))
}

// Prompt writes an input prompt without a trailing newline
func (c *ConsoleSink) Prompt(text string) {
	if text == "" {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	io.WriteString(c.out, text)
}

// QueueSink is a bounded FIFO of records. Deliver blocks while the queue is
// full, which back-pressures the producing receive loop only.
type QueueSink struct {
	records chan model.Record
}

// NewQueueSink creates a queue holding at most size records
func NewQueueSink(size int) *QueueSink {
	if size <= 0 {
		size = 1
	}
	return &QueueSink{records: make(chan model.Record, size)}
}

// Deliver implements Sink
func (q *QueueSink) Deliver(ctx context.Context, rec model.Record) error {
	select {
	case q.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryReceive returns the oldest queued record without blocking
func (q *QueueSink) TryReceive() (model.Record, bool) {
	select {
	case rec := <-q.records:
		return rec, true
	default:
		return model.Record{}, false
	}
}

// Len returns the number of queued records
func (q *QueueSink) Len() int {
	return len(q.records)
}
