package serial

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakePort replays queued chunks and records every control call. A chunk
// larger than the read buffer is returned over several reads.
type fakePort struct {
	mu       sync.Mutex
	reads    chan []byte
	rest     []byte
	written  bytes.Buffer
	calls    []string
	closes   int
	timeout  time.Duration
	modemErr error
	shortBy  int
}

func newFakePort() *fakePort {
	return &fakePort{reads: make(chan []byte, 16), timeout: 5 * time.Millisecond}
}

func (p *fakePort) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePort) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.rest) > 0 {
		n := copy(b, p.rest)
		p.rest = p.rest[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	select {
	case chunk, ok := <-p.reads:
		if !ok {
			return 0, io.EOF
		}
		n := copy(b, chunk)
		p.mu.Lock()
		p.rest = append(p.rest, chunk[n:]...)
		p.mu.Unlock()
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(b) - p.shortBy
	p.written.Write(b[:n])
	return n, nil
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.record("SetReadTimeout")
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) SetDTR(dtr bool) error {
	if p.modemErr != nil {
		return p.modemErr
	}
	p.record(fmt.Sprintf("SetDTR(%t)", dtr))
	return nil
}

func (p *fakePort) SetRTS(rts bool) error {
	if p.modemErr != nil {
		return p.modemErr
	}
	p.record(fmt.Sprintf("SetRTS(%t)", rts))
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.record("ResetInputBuffer")
	return nil
}

func (p *fakePort) ResetOutputBuffer() error {
	p.record("ResetOutputBuffer")
	return nil
}

// openerFor returns an opener handing out port and capturing the mode
func openerFor(port Port, err error, mode **serial.Mode) Opener {
	return func(address string, m *serial.Mode) (Port, error) {
		if mode != nil {
			*mode = m
		}
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}
