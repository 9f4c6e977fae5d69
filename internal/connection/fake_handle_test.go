package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"sercom/internal/protocol"
)

var errUnplugged = protocol.NewTransportError("read", "/dev/ttyTEST0", errors.New("device unplugged"))

type readResult struct {
	line []byte
	err  error
}

type fakeHandle struct {
	factory *fakeFactory
	openErr error
	reads   chan readResult

	mu        sync.Mutex
	closed    int
	discarded int
	written   [][]byte
	writeErr  error
}

func (h *fakeHandle) Open(ctx context.Context) error {
	f := h.factory
	if active := f.active.Inc(); active > f.maxActive.Load() {
		f.maxActive.Store(active)
	}
	time.Sleep(time.Millisecond)
	f.active.Dec()
	f.opens.Inc()
	return h.openErr
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *fakeHandle) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) ReadLine(timeout time.Duration) ([]byte, error) {
	select {
	case r := <-h.reads:
		return r.line, r.err
	case <-time.After(timeout):
		return nil, nil
	}
}

func (h *fakeHandle) Write(ctx context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return h.writeErr
	}
	h.written = append(h.written, data)
	return nil
}

func (h *fakeHandle) DiscardPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discarded++
}

// fakeFactory hands out handles whose Open fails while failing is set
type fakeFactory struct {
	mu      sync.Mutex
	handles []*fakeHandle
	failing bool

	active    *atomic.Int32
	maxActive *atomic.Int32
	opens     *atomic.Int32
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		active:    atomic.NewInt32(0),
		maxActive: atomic.NewInt32(0),
		opens:     atomic.NewInt32(0),
	}
}

func (f *fakeFactory) SetFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakeFactory) New() (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := &fakeHandle{factory: f, reads: make(chan readResult, 16)}
	if f.failing {
		h.openErr = protocol.NewTransportError("open", "/dev/ttyTEST0", errors.New("no such device"))
	}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeFactory) Handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

func (f *fakeFactory) Last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

// statusRecorder collects status events
type statusRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *statusRecorder) Record(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *statusRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
