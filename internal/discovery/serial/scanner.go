// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"sercom/internal/discovery"
)

// Lister enumerates serial device addresses
type Lister func() ([]string, error)

// Scanner implements serial port discovery
type Scanner struct {
	list   Lister
	logger *zap.Logger
}

// NewScanner creates a scanner backed by the operating system port list
func NewScanner(logger *zap.Logger) *Scanner {
	return NewScannerWithLister(serial.GetPortsList, logger)
}

// NewScannerWithLister creates a scanner backed by list
func NewScannerWithLister(list Lister, logger *zap.Logger) *Scanner {
	return &Scanner{
		list:   list,
		logger: logger.With(zap.String("scanner", "serial")),
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan lists the serial ports present on the host
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	discovered := make([]*discovery.DiscoveredPort, 0, len(ports))
	for _, port := range ports {
		discovered = append(discovered, &discovery.DiscoveredPort{
			Address: port,
			Scanner: s.GetScannerType(),
		})
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(discovered)))
	return discovered, nil
}
