package statistic

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net"
	"net/netip"

	"Go2NetFlow/internal/model"
)

// Key is the direction-independent identity of a flow.
//
// Two keys are the same flow when the transport protocols match and the 4-tuple
// matches either directly or with source and destination swapped. Equal and Hash
// both go through Canonical, so a key and its reverse always agree.
type Key struct {
	TransportProtocol uint8
	Src               netip.Addr
	SrcPort           uint16
	Dst               netip.Addr
	DstPort           uint16
}

// NewKey builds a key from textual IPv4 or IPv6 addresses. IPv4-mapped addresses are unmapped.
func NewKey(transportProtocol uint8, src, dst string, srcPort, dstPort uint16) (Key, error) {
	srcAddr, err := netip.ParseAddr(src)
	if err != nil {
		return Key{}, fmt.Errorf("%w: source %q", ErrInvalidAddress, src)
	}
	dstAddr, err := netip.ParseAddr(dst)
	if err != nil {
		return Key{}, fmt.Errorf("%w: destination %q", ErrInvalidAddress, dst)
	}
	return Key{
		TransportProtocol: transportProtocol,
		Src:               srcAddr.Unmap(),
		SrcPort:           srcPort,
		Dst:               dstAddr.Unmap(),
		DstPort:           dstPort,
	}, nil
}

// KeyFromTuple builds a key from decoder output. IPv4-mapped addresses are unmapped.
func KeyFromTuple(ft model.FiveTuple) (Key, error) {
	src, err := addrFromIP(ft.SrcIP)
	if err != nil {
		return Key{}, fmt.Errorf("%w: source %v", ErrInvalidAddress, ft.SrcIP)
	}
	dst, err := addrFromIP(ft.DstIP)
	if err != nil {
		return Key{}, fmt.Errorf("%w: destination %v", ErrInvalidAddress, ft.DstIP)
	}
	return Key{
		TransportProtocol: ft.Protocol,
		Src:               src,
		SrcPort:           ft.SrcPort,
		Dst:               dst,
		DstPort:           ft.DstPort,
	}, nil
}

func addrFromIP(ip net.IP) (netip.Addr, error) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, ErrInvalidAddress
	}
	return addr.Unmap(), nil
}

// Reverse swaps source and destination.
func (k Key) Reverse() Key {
	return Key{
		TransportProtocol: k.TransportProtocol,
		Src:               k.Dst,
		SrcPort:           k.DstPort,
		Dst:               k.Src,
		DstPort:           k.SrcPort,
	}
}

// Canonical returns the orientation used for hashing and table lookups:
// unchanged when src < dst, or src == dst and src_port <= dst_port; swapped otherwise.
func (k Key) Canonical() Key {
	switch c := k.Src.Compare(k.Dst); {
	case c < 0, c == 0 && k.SrcPort <= k.DstPort:
		return k
	}
	return k.Reverse()
}

// Equal reports whether k and other identify the same flow: the protocols match and the
// 4-tuples match directly or swapped, which is exactly when the canonical forms coincide.
func (k Key) Equal(other Key) bool {
	return k.Canonical() == other.Canonical()
}

// Hash returns a 64-bit FNV-1a hash that is identical for both orientations.
// The protocol is hashed first, then the canonical 4-tuple.
func (k Key) Hash() uint64 {
	c := k.Canonical()
	hasher := fnv.New64a()
	var port [2]byte
	hasher.Write([]byte{c.TransportProtocol})
	hasher.Write(c.Src.AsSlice())
	binary.BigEndian.PutUint16(port[:], c.SrcPort)
	hasher.Write(port[:])
	hasher.Write(c.Dst.AsSlice())
	binary.BigEndian.PutUint16(port[:], c.DstPort)
	hasher.Write(port[:])
	return hasher.Sum64()
}

// Compare orders keys by protocol, source, source port, destination then destination port.
// It compares orientations as given; callers wanting flow order compare canonical keys.
func Compare(a, b Key) int {
	if c := cmp.Compare(a.TransportProtocol, b.TransportProtocol); c != 0 {
		return c
	}
	if c := a.Src.Compare(b.Src); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SrcPort, b.SrcPort); c != 0 {
		return c
	}
	if c := a.Dst.Compare(b.Dst); c != 0 {
		return c
	}
	return cmp.Compare(a.DstPort, b.DstPort)
}

// String formats the key as src-dst-src_port-dst_port-protocol.
func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%d-%d-%d", k.Src, k.Dst, k.SrcPort, k.DstPort, k.TransportProtocol)
}

type keyJSON struct {
	TransportProtocol uint8  `json:"transport_protocol"`
	Src               string `json:"src"`
	SrcPort           uint16 `json:"src_port"`
	Dst               string `json:"dst"`
	DstPort           uint16 `json:"dst_port"`
}

func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(keyJSON{
		TransportProtocol: k.TransportProtocol,
		Src:               k.Src.String(),
		SrcPort:           k.SrcPort,
		Dst:               k.Dst.String(),
		DstPort:           k.DstPort,
	})
}

func (k *Key) UnmarshalJSON(data []byte) error {
	var wire struct {
		TransportProtocol *uint8  `json:"transport_protocol"`
		Src               *string `json:"src"`
		SrcPort           *uint16 `json:"src_port"`
		Dst               *string `json:"dst"`
		DstPort           *uint16 `json:"dst_port"`
	}
	if err := model.DecodeStrict(data, &wire); err != nil {
		return err
	}
	if wire.TransportProtocol == nil || wire.Src == nil || wire.SrcPort == nil || wire.Dst == nil || wire.DstPort == nil {
		return errMissing("flow key", "transport_protocol", "src", "src_port", "dst", "dst_port")
	}
	key, err := NewKey(*wire.TransportProtocol, *wire.Src, *wire.Dst, *wire.SrcPort, *wire.DstPort)
	if err != nil {
		return err
	}
	*k = key
	return nil
}
