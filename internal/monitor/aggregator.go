// internal/monitor/aggregator.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sercom/internal/connection"
	"sercom/internal/model"
)

// ErrUnknownDevice is returned for a device id that is not aggregated
var ErrUnknownDevice = errors.New("unknown device")

// AggregatorConfig represents multi-device fan-in configuration
type AggregatorConfig struct {
	QueueSize    int
	IdleInterval time.Duration
	JoinTimeout  time.Duration
}

type deviceEntry struct {
	session *Session
	queue   *QueueSink
	started bool
}

// Aggregator runs one session per device, each feeding a bounded queue, and
// merges the queues into a single observer. Records of one device keep their
// arrival order; no order is kept across devices.
type Aggregator struct {
	config   AggregatorConfig
	observer Sink
	logger   *zap.Logger

	mutex   sync.RWMutex
	entries []*deviceEntry
	byID    map[model.DeviceID]*deviceEntry

	cancel       context.CancelFunc
	observerDone chan struct{}
	allDone      chan struct{}
}

// NewAggregator creates an aggregator emitting to observer
func NewAggregator(config AggregatorConfig, observer Sink, logger *zap.Logger) *Aggregator {
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.IdleInterval <= 0 {
		config.IdleInterval = 10 * time.Millisecond
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 2 * time.Second
	}

	return &Aggregator{
		config:   config,
		observer: observer,
		logger:   logger.With(zap.String("component", "aggregator")),
		byID:     make(map[model.DeviceID]*deviceEntry),
	}
}

// AddDevice registers a device. It must be called before Start.
func (a *Aggregator) AddDevice(conn *connection.Manager, status StatusFunc, config SessionConfig) (*Session, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if _, exists := a.byID[conn.Device()]; exists {
		return nil, fmt.Errorf("device %s already registered", conn.Device())
	}

	queue := NewQueueSink(a.config.QueueSize)
	entry := &deviceEntry{
		session: NewSession(conn, queue, status, config, a.logger),
		queue:   queue,
	}
	a.entries = append(a.entries, entry)
	a.byID[conn.Device()] = entry
	return entry.session, nil
}

// Start starts every device session and the observer loop. Devices that
// cannot be opened are logged and skipped; Start fails only when none could
// be started.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var errs []error
	started := 0
	for _, entry := range a.entries {
		if err := entry.session.Start(ctx); err != nil {
			a.logger.Error("Failed to start device session",
				zap.String("device_id", string(entry.session.Device())),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", entry.session.Device(), err))
			continue
		}
		entry.started = true
		started++
	}

	if started == 0 {
		return fmt.Errorf("failed to start any device session: %w", errors.Join(errs...))
	}

	observerCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.observerDone = make(chan struct{})
	go a.observe(observerCtx)

	a.allDone = make(chan struct{})
	go a.watchSessions()

	a.logger.Info("Aggregator started", zap.Int("devices", started))
	return nil
}

// observe polls every queue without blocking, one record per queue per pass,
// and sleeps briefly when a pass finds nothing. On cancellation it drains
// whatever is still queued.
func (a *Aggregator) observe(ctx context.Context) {
	defer close(a.observerDone)

	entries := a.snapshot()
	for {
		if !a.pass(ctx, entries) {
			select {
			case <-ctx.Done():
				a.drain(entries)
				return
			case <-time.After(a.config.IdleInterval):
			}
		}
	}
}

func (a *Aggregator) pass(ctx context.Context, entries []*deviceEntry) bool {
	emitted := false
	for _, entry := range entries {
		rec, ok := entry.queue.TryReceive()
		if !ok {
			continue
		}
		emitted = true
		if err := a.observer.Deliver(ctx, rec); err != nil && ctx.Err() == nil {
			a.logger.Warn("Observer rejected record", zap.Error(err))
		}
	}
	return emitted
}

func (a *Aggregator) drain(entries []*deviceEntry) {
	ctx := context.Background()
	for a.pass(ctx, entries) {
	}
}

func (a *Aggregator) watchSessions() {
	defer close(a.allDone)
	for _, entry := range a.snapshot() {
		if entry.started {
			<-entry.session.Done()
		}
	}
}

// Done is closed once every started session has been asked to stop
func (a *Aggregator) Done() <-chan struct{} {
	return a.allDone
}

// Stop stops every session concurrently, then drains the queues into the
// observer and stops the observer loop
func (a *Aggregator) Stop() {
	a.logger.Info("Stopping aggregator")

	var wg sync.WaitGroup
	for _, entry := range a.snapshot() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(entry.session)
	}
	wg.Wait()

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.observerDone:
		case <-time.After(a.config.JoinTimeout):
			a.logger.Warn("Observer loop did not exit in time, abandoning it")
		}
	}

	a.logger.Info("Aggregator stopped")
}

// Submit routes an operator line to a device's transmit pipeline
func (a *Aggregator) Submit(ctx context.Context, device model.DeviceID, text string) error {
	a.mutex.RLock()
	entry, ok := a.byID[device]
	a.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}
	return entry.session.Submit(ctx, text)
}

// CloseInput ends operator input on every device
func (a *Aggregator) CloseInput() {
	for _, entry := range a.snapshot() {
		entry.session.CloseInput()
	}
}

// Devices returns the status of every device in registration order
func (a *Aggregator) Devices() []SessionStatus {
	entries := a.snapshot()
	statuses := make([]SessionStatus, 0, len(entries))
	for _, entry := range entries {
		statuses = append(statuses, entry.session.Status())
	}
	return statuses
}

func (a *Aggregator) snapshot() []*deviceEntry {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	entries := make([]*deviceEntry, len(a.entries))
	copy(entries, a.entries)
	return entries
}
