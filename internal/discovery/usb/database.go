// internal/discovery/usb/database.go
package usb

import "strings"

// VendorInfo describes a USB vendor known to ship serial bridges
type VendorInfo struct {
	Name     string
	products map[string]string
}

// BridgeDatabase holds known USB-to-serial bridge chips keyed by
// lowercase hex vendor and product IDs
type BridgeDatabase struct {
	vendors map[string]*VendorInfo
}

// NewBridgeDatabase creates a database with common bridge chips
func NewBridgeDatabase() *BridgeDatabase {
	db := &BridgeDatabase{vendors: make(map[string]*VendorInfo)}
	db.loadKnownBridges()
	return db
}

func (db *BridgeDatabase) loadKnownBridges() {
	db.AddVendor("0403", "FTDI")
	db.AddProduct("0403", "6001", "FT232R")
	db.AddProduct("0403", "6010", "FT2232H")
	db.AddProduct("0403", "6011", "FT4232H")
	db.AddProduct("0403", "6014", "FT232H")
	db.AddProduct("0403", "6015", "FT231X")

	db.AddVendor("10c4", "Silicon Labs")
	db.AddProduct("10c4", "ea60", "CP210x")
	db.AddProduct("10c4", "ea70", "CP2105")
	db.AddProduct("10c4", "ea71", "CP2108")

	db.AddVendor("1a86", "WCH")
	db.AddProduct("1a86", "7523", "CH340")
	db.AddProduct("1a86", "5523", "CH341")
	db.AddProduct("1a86", "55d4", "CH9102")

	db.AddVendor("067b", "Prolific")
	db.AddProduct("067b", "2303", "PL2303")
	db.AddProduct("067b", "23a3", "PL2303GC")

	db.AddVendor("2341", "Arduino")
	db.AddProduct("2341", "0043", "Uno R3")
	db.AddProduct("2341", "0042", "Mega 2560 R3")

	db.AddVendor("303a", "Espressif")
	db.AddProduct("303a", "1001", "USB JTAG/serial")

	db.AddVendor("2e8a", "Raspberry Pi")
	db.AddProduct("2e8a", "0005", "RP2040 CDC")

	db.AddVendor("0483", "STMicroelectronics")
	db.AddProduct("0483", "5740", "Virtual COM Port")
	db.AddProduct("0483", "374b", "ST-LINK/V2-1")
}

// AddVendor adds a vendor to the database
func (db *BridgeDatabase) AddVendor(vendorID, name string) {
	db.vendors[normalizeID(vendorID)] = &VendorInfo{
		Name:     name,
		products: make(map[string]string),
	}
}

// AddProduct adds a product to an existing vendor
func (db *BridgeDatabase) AddProduct(vendorID, productID, chip string) {
	if vendor, exists := db.vendors[normalizeID(vendorID)]; exists {
		vendor.products[normalizeID(productID)] = chip
	}
}

// Lookup returns the vendor and chip names for an ID pair. Unknown IDs
// yield empty strings.
func (db *BridgeDatabase) Lookup(vendorID, productID string) (vendor, chip string) {
	info, exists := db.vendors[normalizeID(vendorID)]
	if !exists {
		return "", ""
	}
	return info.Name, info.products[normalizeID(productID)]
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *BridgeDatabase) IsKnownVendor(vendorID string) bool {
	_, exists := db.vendors[normalizeID(vendorID)]
	return exists
}

// GetTotalProductCount returns total number of known products
func (db *BridgeDatabase) GetTotalProductCount() int {
	total := 0
	for _, vendor := range db.vendors {
		total += len(vendor.products)
	}
	return total
}

func normalizeID(id string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
}
