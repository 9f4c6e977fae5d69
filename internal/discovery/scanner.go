// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// PortScanner finds candidate device addresses
type PortScanner interface {
	Scan(ctx context.Context) ([]*DiscoveredPort, error)
	GetScannerType() string
	IsAvailable() bool
}

// DiscoveredPort represents an address a device may be attached to
type DiscoveredPort struct {
	Address string   `json:"address"`
	Scanner string   `json:"scanner"`
	USB     *USBInfo `json:"usb,omitempty"`
}

// USBInfo describes the USB bridge behind a serial port
type USBInfo struct {
	VendorID     string `json:"vendor_id"`
	ProductID    string `json:"product_id"`
	SerialNumber string `json:"serial_number,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
	Chip         string `json:"chip,omitempty"`
}

// Description returns a one-line summary of the port
func (p *DiscoveredPort) Description() string {
	if p.USB == nil {
		return p.Address
	}
	desc := fmt.Sprintf("%s [%s:%s]", p.Address, p.USB.VendorID, p.USB.ProductID)
	if p.USB.Chip != "" {
		desc += " " + p.USB.Chip
	} else if p.USB.Vendor != "" {
		desc += " " + p.USB.Vendor
	}
	if p.USB.SerialNumber != "" {
		desc += " serial=" + p.USB.SerialNumber
	}
	return desc
}

// ScannerManager runs every registered scanner
type ScannerManager struct {
	scanners map[string]PortScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]PortScanner),
		logger:   logger,
	}
}

// RegisterScanner registers a port scanner
func (sm *ScannerManager) RegisterScanner(scanner PortScanner) {
	scannerType := scanner.GetScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Debug("Scanner registered", zap.String("type", scannerType))
}

// ScanAll runs all available scanners. A failing scanner is logged and
// skipped. Ports reported by several scanners are merged, keeping USB
// details when any scanner found them. Results are sorted by address.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*DiscoveredPort, error) {
	byAddress := make(map[string]*DiscoveredPort)

	for scannerType, scanner := range sm.scanners {
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		ports, err := scanner.Scan(ctx)
		if err != nil {
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}
		for _, port := range ports {
			if existing, ok := byAddress[port.Address]; ok && (existing.USB != nil || port.USB == nil) {
				sm.logger.Debug("Removing duplicate port", zap.String("address", port.Address))
				continue
			}
			byAddress[port.Address] = port
		}
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("scan cancelled: %w", ctx.Err())
	}

	all := make([]*DiscoveredPort, 0, len(byAddress))
	for _, port := range byAddress {
		all = append(all, port)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Address < all[j].Address })
	return all, nil
}
