// internal/model/record.go
package model

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"
)

// Terminator is appended to every outbound command
const Terminator = "\r\n"

// Record is one newline-delimited unit of received data
type Record struct {
	Device    DeviceID  `json:"device_id,omitempty"`
	Text      string    `json:"text"`
	Raw       []byte    `json:"-"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewRecord decodes a received line. Trailing CR/LF are stripped and invalid
// UTF-8 is replaced with U+FFFD, so decoding never fails.
func NewRecord(device DeviceID, line []byte, capturedAt time.Time) Record {
	trimmed := bytes.TrimRight(line, "\r\n")
	raw := make([]byte, 0, len(trimmed))
	raw = append(raw, trimmed...)

	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}

	return Record{
		Device:    device,
		Text:      text,
		Raw:       raw,
		Timestamp: capturedAt,
	}
}

// HasTimestamp reports whether the record was captured with timestamping on
func (r Record) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// Command is an operator-entered line queued for transmission
type Command struct {
	Text string
}

// Bytes returns the wire form of the command
func (c Command) Bytes() []byte {
	return []byte(c.Text + Terminator)
}
