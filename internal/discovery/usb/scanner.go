// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"sercom/internal/discovery"
)

// Lister enumerates serial ports with their USB details
type Lister func() ([]*enumerator.PortDetails, error)

// Scanner reports serial ports backed by USB bridges
type Scanner struct {
	list         Lister
	knownBridges *BridgeDatabase
	logger       *zap.Logger
}

// NewScanner creates a scanner backed by the operating system enumerator
func NewScanner(logger *zap.Logger) *Scanner {
	return NewScannerWithLister(enumerator.GetDetailedPortsList, logger)
}

// NewScannerWithLister creates a scanner backed by list
func NewScannerWithLister(list Lister, logger *zap.Logger) *Scanner {
	return &Scanner{
		list:         list,
		knownBridges: NewBridgeDatabase(),
		logger:       logger.With(zap.String("scanner", "usb")),
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "usb"
}

// IsAvailable checks if USB enumeration is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan lists USB serial ports. Ports without USB details are left to
// the plain serial scanner.
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	details, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate usb ports: %w", err)
	}

	var discovered []*discovery.DiscoveredPort
	for _, port := range details {
		if port == nil || !port.IsUSB {
			continue
		}

		vendor, chip := s.knownBridges.Lookup(port.VID, port.PID)
		if vendor == "" {
			s.logger.Debug("Unknown USB vendor",
				zap.String("port", port.Name),
				zap.String("vendor_id", port.VID),
				zap.String("product_id", port.PID))
		}

		discovered = append(discovered, &discovery.DiscoveredPort{
			Address: port.Name,
			Scanner: s.GetScannerType(),
			USB: &discovery.USBInfo{
				VendorID:     normalizeID(port.VID),
				ProductID:    normalizeID(port.PID),
				SerialNumber: port.SerialNumber,
				Vendor:       vendor,
				Chip:         chip,
			},
		})
	}

	s.logger.Debug("USB scan completed", zap.Int("ports_found", len(discovered)))
	return discovered, nil
}
