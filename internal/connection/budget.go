// internal/connection/budget.go
package connection

import (
	"time"

	"go.uber.org/atomic"
)

// Budget tracks reconnect attempts since the last successful open
type Budget struct {
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
}

// Exhausted reports whether no attempts remain. An unbounded budget never
// runs out.
func (b Budget) Exhausted() bool {
	return b.MaxAttempts > 0 && b.Attempts >= b.MaxAttempts
}

// Stats collects connection counters
type Stats struct {
	bytesRead    *atomic.Int64
	bytesWritten *atomic.Int64
	recordsRead  *atomic.Int64
	writes       *atomic.Int64
	errors       *atomic.Int64
	opens        *atomic.Int64
	deaths       *atomic.Int64
	reconnects   *atomic.Int64
	lastActivity *atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	BytesRead    int64     `json:"bytes_read"`
	BytesWritten int64     `json:"bytes_written"`
	RecordsRead  int64     `json:"records_read"`
	Writes       int64     `json:"writes"`
	ErrorCount   int64     `json:"error_count"`
	Opens        int64     `json:"opens"`
	Deaths       int64     `json:"deaths"`
	Reconnects   int64     `json:"reconnects"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

func newStats() *Stats {
	return &Stats{
		bytesRead:    atomic.NewInt64(0),
		bytesWritten: atomic.NewInt64(0),
		recordsRead:  atomic.NewInt64(0),
		writes:       atomic.NewInt64(0),
		errors:       atomic.NewInt64(0),
		opens:        atomic.NewInt64(0),
		deaths:       atomic.NewInt64(0),
		reconnects:   atomic.NewInt64(0),
		lastActivity: atomic.NewInt64(0),
	}
}

func (s *Stats) recordRead(n int) {
	s.bytesRead.Add(int64(n))
	s.recordsRead.Inc()
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Stats) recordWrite(n int) {
	s.bytesWritten.Add(int64(n))
	s.writes.Inc()
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Stats) snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
		RecordsRead:  s.recordsRead.Load(),
		Writes:       s.writes.Load(),
		ErrorCount:   s.errors.Load(),
		Opens:        s.opens.Load(),
		Deaths:       s.deaths.Load(),
		Reconnects:   s.reconnects.Load(),
	}
	if last := s.lastActivity.Load(); last > 0 {
		snap.LastActivity = time.Unix(0, last)
	}
	return snap
}
