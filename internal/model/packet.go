package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxTimestampSecs is the largest seconds value whose timestamps, and differences
// between them, fit in a time.Duration.
const MaxTimestampSecs uint64 = 9223372035

// Timestamp is a capture time as seconds and nanoseconds since the Unix epoch.
type Timestamp struct {
	Secs  uint64 `json:"secs"`
	Nanos uint32 `json:"nanos"`
}

// TimestampOf converts a wall-clock time. Times before the epoch clamp to zero.
func TimestampOf(t time.Time) Timestamp {
	if t.Before(time.Unix(0, 0)) {
		return Timestamp{}
	}
	return Timestamp{Secs: uint64(t.Unix()), Nanos: uint32(t.Nanosecond())}
}

// TimestampFromDuration converts an offset from the epoch.
func TimestampFromDuration(d time.Duration) Timestamp {
	if d < 0 {
		return Timestamp{}
	}
	return Timestamp{Secs: uint64(d / time.Second), Nanos: uint32(d % time.Second)}
}

// Nanoseconds returns the timestamp as nanoseconds since the epoch.
func (ts Timestamp) Nanoseconds() uint64 {
	return ts.Secs*uint64(time.Second) + uint64(ts.Nanos)
}

// Time returns the timestamp as UTC wall-clock time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Secs), int64(ts.Nanos)).UTC()
}

// Compare returns -1, 0 or +1.
func (ts Timestamp) Compare(other Timestamp) int {
	switch {
	case ts.Secs < other.Secs:
		return -1
	case ts.Secs > other.Secs:
		return 1
	case ts.Nanos < other.Nanos:
		return -1
	case ts.Nanos > other.Nanos:
		return 1
	}
	return 0
}

// Before reports whether ts is strictly earlier than other.
func (ts Timestamp) Before(other Timestamp) bool { return ts.Compare(other) < 0 }

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool { return ts.Compare(other) > 0 }

// Sub returns ts - other. The result is negative when other is later.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	secs := int64(ts.Secs) - int64(other.Secs)
	nanos := int64(ts.Nanos) - int64(other.Nanos)
	return time.Duration(secs)*time.Second + time.Duration(nanos)
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var wire struct {
		Secs  *uint64 `json:"secs"`
		Nanos *uint32 `json:"nanos"`
	}
	if err := DecodeStrict(data, &wire); err != nil {
		return err
	}
	if wire.Secs == nil || wire.Nanos == nil {
		return errors.New("timestamp requires secs and nanos")
	}
	if *wire.Nanos >= uint32(time.Second) {
		return fmt.Errorf("timestamp nanos out of range: %d", *wire.Nanos)
	}
	if *wire.Secs > MaxTimestampSecs {
		return fmt.Errorf("timestamp secs out of range: %d", *wire.Secs)
	}
	*ts = Timestamp{Secs: *wire.Secs, Nanos: *wire.Nanos}
	return nil
}

// Packet is the immutable observation of a single packet, as supplied by the decoder.
// Window and the network lengths are nil when the decoder could not determine them.
type Packet struct {
	Length               uint64    `json:"length"`
	Window               *uint16   `json:"window,omitempty"`
	Timestamp            Timestamp `json:"timestamp"`
	Flags                FlagSet   `json:"flag_list"`
	NetworkProtocol      uint16    `json:"network_protocol"`
	NetworkHeaderLength  *uint64   `json:"network_header_length,omitempty"`
	NetworkPayloadLength *uint64   `json:"network_payload_length,omitempty"`
	// Position is the index in the originating capture, kept for traceability.
	Position uint64 `json:"position"`
}

// NewPacket builds a packet with the required fields; optional fields stay unknown.
func NewPacket(length uint64, ts Timestamp, flags FlagSet, networkProtocol uint16, position uint64) Packet {
	return Packet{
		Length:          length,
		Timestamp:       ts,
		Flags:           flags,
		NetworkProtocol: networkProtocol,
		Position:        position,
	}
}

// WithWindow returns a copy carrying the TCP window.
func (p Packet) WithWindow(window uint16) Packet {
	p.Window = &window
	return p
}

// WithNetworkLengths returns a copy carrying the network header and payload lengths.
func (p Packet) WithNetworkLengths(header, payload uint64) Packet {
	p.NetworkHeaderLength = &header
	p.NetworkPayloadLength = &payload
	return p
}

// Equal compares packets field by field, treating unknown optionals as distinct from zero.
func (p Packet) Equal(other Packet) bool {
	return p.Length == other.Length &&
		equalOptional(p.Window, other.Window) &&
		p.Timestamp == other.Timestamp &&
		p.Flags == other.Flags &&
		p.NetworkProtocol == other.NetworkProtocol &&
		equalOptional(p.NetworkHeaderLength, other.NetworkHeaderLength) &&
		equalOptional(p.NetworkPayloadLength, other.NetworkPayloadLength) &&
		p.Position == other.Position
}

func (p *Packet) UnmarshalJSON(data []byte) error {
	var wire struct {
		Length               *uint64    `json:"length"`
		Window               *uint16    `json:"window"`
		Timestamp            *Timestamp `json:"timestamp"`
		Flags                *FlagSet   `json:"flag_list"`
		NetworkProtocol      *uint16    `json:"network_protocol"`
		NetworkHeaderLength  *uint64    `json:"network_header_length"`
		NetworkPayloadLength *uint64    `json:"network_payload_length"`
		Position             *uint64    `json:"position"`
	}
	if err := DecodeStrict(data, &wire); err != nil {
		return err
	}
	switch {
	case wire.Length == nil:
		return errors.New("packet is missing length")
	case wire.Timestamp == nil:
		return errors.New("packet is missing timestamp")
	case wire.Flags == nil:
		return errors.New("packet is missing flag_list")
	case wire.NetworkProtocol == nil:
		return errors.New("packet is missing network_protocol")
	case wire.Position == nil:
		return errors.New("packet is missing position")
	}
	*p = Packet{
		Length:               *wire.Length,
		Window:               wire.Window,
		Timestamp:            *wire.Timestamp,
		Flags:                *wire.Flags,
		NetworkProtocol:      *wire.NetworkProtocol,
		NetworkHeaderLength:  wire.NetworkHeaderLength,
		NetworkPayloadLength: wire.NetworkPayloadLength,
		Position:             *wire.Position,
	}
	return nil
}

func equalOptional[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// DecodeStrict unmarshals a single JSON value, rejecting fields the target does not declare.
// A JSON null for an object is rejected as well.
func DecodeStrict(data []byte, v any) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("unexpected null")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
