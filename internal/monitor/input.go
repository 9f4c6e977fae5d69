// internal/monitor/input.go
package monitor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"sercom/internal/model"
)

// ErrInterrupted is returned by an input source when the operator interrupts
// input. Like io.EOF it ends the session.
var ErrInterrupted = errors.New("input interrupted")

// ErrInputClosed is returned when submitting to a closed input
var ErrInputClosed = errors.New("input closed")

// InputSource supplies operator-entered lines. ReadLine returns io.EOF or
// ErrInterrupted when input ends.
type InputSource interface {
	ReadLine(ctx context.Context) (string, error)
}

// CommandInput is an in-memory input source fed by Submit. Lines are handed
// out in submission order.
type CommandInput struct {
	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewCommandInput creates an input buffering up to size pending lines
func NewCommandInput(size int) *CommandInput {
	if size <= 0 {
		size = 1
	}
	return &CommandInput{
		lines: make(chan string, size),
		done:  make(chan struct{}),
	}
}

// Submit queues a line, blocking while the buffer is full
func (c *CommandInput) Submit(ctx context.Context, line string) error {
	select {
	case <-c.done:
		return ErrInputClosed
	default:
	}

	select {
	case c.lines <- line:
		return nil
	case <-c.done:
		return ErrInputClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks end of input. Lines already queued are still delivered.
func (c *CommandInput) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadLine implements InputSource
func (c *CommandInput) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	default:
	}

	select {
	case line := <-c.lines:
		return line, nil
	case <-c.done:
		select {
		case line := <-c.lines:
			return line, nil
		default:
			return "", io.EOF
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ScanLines reads r line by line and passes each line to handle until r is
// exhausted, handle fails or ctx is cancelled. A blocked read on r is left
// behind on cancellation since terminals cannot be interrupted portably.
func ScanLines(ctx context.Context, r io.Reader, handle func(line string) error) error {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		select {
		case line := <-lines:
			if err := handle(line); err != nil {
				return err
			}
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SplitRoutedLine splits an operator line of the form "<device>: <text>"
func SplitRoutedLine(line string) (model.DeviceID, string, bool) {
	device, text, ok := strings.Cut(line, ":")
	device = strings.TrimSpace(device)
	if !ok || device == "" || strings.ContainsAny(device, " \t") {
		return "", "", false
	}
	return model.DeviceID(device), strings.TrimPrefix(text, " "), true
}
