package model

import (
	"net"
)

// FiveTuple represents the 5-tuple of a network packet, in the orientation it was observed.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Observation is what the packet decoder hands to the flow engine for one packet.
type Observation struct {
	FiveTuple FiveTuple
	Packet    Packet
	// SNI is the TLS server name seen in this packet, if any.
	SNI string
}

// Direction tells which side of a flow a packet travelled on.
type Direction uint8

const (
	// Forward is the orientation of the first packet observed for the flow.
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}
