// internal/monitor/format.go
package monitor

import (
	"encoding/hex"
	"strings"

	"sercom/internal/model"
)

const (
	timestampLayout = "15:04:05"
	hexBytesPerRow  = 16
)

// FormatOptions selects the columns rendered for each record
type FormatOptions struct {
	Timestamp  bool
	Hex        bool
	ShowDevice bool
}

// Formatter renders records as console text
type Formatter struct {
	options FormatOptions
}

// NewFormatter creates a formatter
func NewFormatter(options FormatOptions) *Formatter {
	return &Formatter{options: options}
}

// Format renders rec followed by a newline. With hex enabled, the raw bytes
// follow on indented rows of colon-separated pairs.
func (f *Formatter) Format(rec model.Record) string {
	var b strings.Builder

	b.WriteString(f.prefix(rec.Device))
	if f.options.Timestamp && rec.HasTimestamp() {
		b.WriteString(rec.Timestamp.Format(timestampLayout))
		b.WriteString("\t")
	}
	b.WriteString(rec.Text)
	b.WriteString("\n")

	if f.options.Hex {
		for _, row := range HexRows(rec.Raw) {
			b.WriteString("\t")
			b.WriteString(row)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatStatus renders a status line
func (f *Formatter) FormatStatus(event model.StatusEvent) string {
	var b strings.Builder

	b.WriteString(f.prefix(event.Device))
	b.WriteString(string(event.Kind))
	if event.Message != "" {
		b.WriteString(": ")
		b.WriteString(event.Message)
	}
	b.WriteString("\n")
	return b.String()
}

func (f *Formatter) prefix(device model.DeviceID) string {
	if !f.options.ShowDevice || device == "" {
		return ""
	}
	return "[" + string(device) + "] "
}

// HexRows splits data into rows of up to 16 bytes rendered as "48:65:6c".
func HexRows(data []byte) []string {
	rows := make([]string, 0, (len(data)+hexBytesPerRow-1)/hexBytesPerRow)
	for start := 0; start < len(data); start += hexBytesPerRow {
		end := start + hexBytesPerRow
		if end > len(data) {
			end = len(data)
		}

		pairs := make([]string, 0, end-start)
		for _, c := range data[start:end] {
			pairs = append(pairs, hex.EncodeToString([]byte{c}))
		}
		rows = append(rows, strings.Join(pairs, ":"))
	}
	return rows
}
