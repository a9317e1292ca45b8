// Package mlat holds the decoded surveillance message type exchanged
// between the upstream receiver and the uplink transports.
package mlat

import "fmt"

// Mode S payload lengths in bytes. DF 0..15 are 56-bit messages,
// DF 16..31 are 112-bit messages.
const (
	ShortLen = 7
	LongLen  = 14
)

// MaxAddress bounds the 24-bit ICAO address space.
const MaxAddress = 1<<24 - 1

// Message is a decoded surveillance message with its receive timestamp
// in receiver timer ticks. It is treated as immutable once built.
type Message struct {
	Address   uint32
	Timestamp uint64
	Payload   []byte
}

// New validates and builds a Message.
func New(address uint32, timestamp uint64, payload []byte) (Message, error) {
	m := Message{Address: address, Timestamp: timestamp, Payload: payload}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the payload-length and address-range invariants.
func (m Message) Validate() error {
	if len(m.Payload) != ShortLen && len(m.Payload) != LongLen {
		return fmt.Errorf("mlat: payload must be %d or %d bytes, got %d", ShortLen, LongLen, len(m.Payload))
	}
	if m.Address > MaxAddress {
		return fmt.Errorf("mlat: address %#x exceeds 24 bits", m.Address)
	}
	return nil
}

// DF returns the downlink format from the top 5 bits of the first
// payload byte.
func (m Message) DF() uint8 {
	return m.Payload[0] >> 3
}

// Short reports whether this is a 56-bit message.
func (m Message) Short() bool {
	return len(m.Payload) == ShortLen
}
