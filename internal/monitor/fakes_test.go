package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sercom/internal/connection"
	"sercom/internal/model"
	"sercom/internal/protocol"
)

var errUnplugged = protocol.NewTransportError("read", "/dev/ttyTEST0", errors.New("device unplugged"))

type readStep struct {
	line string
	err  error
}

// scriptConn replays read steps and records pipeline calls
type scriptConn struct {
	mu        sync.Mutex
	steps     []readStep
	written   []string
	writeErr  error
	markDead  int
	reconnect int

	reconnectErr error
}

func (c *scriptConn) ReadLine(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if len(c.steps) == 0 {
		c.mu.Unlock()
		time.Sleep(timeout)
		return nil, nil
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	c.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	return []byte(step.line), nil
}

func (c *scriptConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		err := c.writeErr
		c.writeErr = nil
		return err
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *scriptConn) MarkDead(cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDead++
	return true
}

func (c *scriptConn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect++
	return c.reconnectErr
}

func (c *scriptConn) ReadTimeout() time.Duration {
	return time.Millisecond
}

func (c *scriptConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *scriptConn) Counts() (markDead, reconnect int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markDead, c.reconnect
}

// collectSink records delivered records
type collectSink struct {
	mu      sync.Mutex
	records []model.Record
}

func (s *collectSink) Deliver(_ context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *collectSink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		texts = append(texts, string(rec.Device)+":"+rec.Text)
	}
	return texts
}

// deviceHandle is a connection.Handle fed through a channel
type deviceHandle struct {
	lines   chan readStep
	openErr error

	mu      sync.Mutex
	written []string
	closed  bool
}

func (h *deviceHandle) Open(ctx context.Context) error { return h.openErr }

func (h *deviceHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *deviceHandle) ReadLine(timeout time.Duration) ([]byte, error) {
	select {
	case step := <-h.lines:
		if step.err != nil {
			return nil, step.err
		}
		return []byte(step.line), nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (h *deviceHandle) Write(ctx context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, string(data))
	return nil
}

func (h *deviceHandle) Written() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.written...)
}

func (h *deviceHandle) DiscardPending() {}

// device simulates a physical device across reconnects. Every handle reads
// from the same line feed; opens fail while unplugged is set.
type device struct {
	mu        sync.Mutex
	lines     chan readStep
	unplugged bool
	handles   []*deviceHandle
}

func newDevice() *device {
	return &device{lines: make(chan readStep, 64)}
}

func (d *device) Emit(line string) { d.lines <- readStep{line: line + "\r\n"} }

func (d *device) Fail() { d.lines <- readStep{err: errUnplugged} }

func (d *device) SetUnplugged(unplugged bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unplugged = unplugged
}

func (d *device) Last() *deviceHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[len(d.handles)-1]
}

func (d *device) factory() (connection.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := &deviceHandle{lines: d.lines}
	if d.unplugged {
		h.openErr = protocol.NewTransportError("open", "/dev/ttyTEST0", errors.New("no such device"))
	}
	d.handles = append(d.handles, h)
	return h, nil
}

func newDeviceManager(t *testing.T, id model.DeviceID, dev *device, backoff time.Duration, status connection.StatusFunc) *connection.Manager {
	t.Helper()

	opts := []connection.Option{connection.WithHandleFactory(dev.factory)}
	if status != nil {
		opts = append(opts, connection.WithStatusFunc(status))
	}

	m, err := connection.NewManager(id, connection.Config{
		Identity:    model.Identity{Address: "/dev/tty" + string(id), BaudRate: 115200},
		ReadTimeout: 5 * time.Millisecond,
		Backoff:     backoff,
	}, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return m
}
