package protocol

import (
	"Go2NetFlow/internal/model"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrUnsupported is returned for packets without an IPv4 or IPv6 layer.
var ErrUnsupported = errors.New("unsupported packet")

// ParsePacket extracts the flow-relevant fields of a decoded packet.
// position is the packet's index in the capture it was read from.
func ParsePacket(packet gopacket.Packet, position uint64) (*model.Observation, error) {
	if errLayer := packet.ErrorLayer(); errLayer != nil && packet.NetworkLayer() == nil {
		return nil, fmt.Errorf("failed to decode packet %d: %w", position, errLayer.Error())
	}

	length := uint64(len(packet.Data()))
	var ts model.Timestamp
	if meta := packet.Metadata(); meta != nil {
		if meta.Length > 0 {
			length = uint64(meta.Length)
		}
		ts = model.TimestampOf(meta.Timestamp)
	}

	var fiveTuple model.FiveTuple
	var networkProtocol uint16
	var headerLength, payloadLength uint64

	// Get the network layer
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		fiveTuple.SrcIP, fiveTuple.DstIP = ip.SrcIP, ip.DstIP
		fiveTuple.Protocol = uint8(ip.Protocol)
		networkProtocol = uint16(layers.EthernetTypeIPv4)
		headerLength, payloadLength = uint64(len(ip.Contents)), uint64(len(ip.Payload))
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		fiveTuple.SrcIP, fiveTuple.DstIP = ip.SrcIP, ip.DstIP
		fiveTuple.Protocol = uint8(ip.NextHeader)
		networkProtocol = uint16(layers.EthernetTypeIPv6)
		headerLength, payloadLength = uint64(len(ip.Contents)), uint64(len(ip.Payload))
	} else {
		return nil, fmt.Errorf("%w: packet %d has no IP layer", ErrUnsupported, position)
	}

	p := model.NewPacket(length, ts, 0, networkProtocol, position).WithNetworkLengths(headerLength, payloadLength)
	obs := &model.Observation{}

	// Get the transport layer; protocols without ports keep them at zero
	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		fiveTuple.SrcPort, fiveTuple.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		fiveTuple.Protocol = uint8(layers.IPProtocolTCP)
		p.Flags = tcpFlags(tcp)
		p = p.WithWindow(tcp.Window)
		if len(tcp.Payload) > 0 {
			if name, ok := ServerName(tcp.Payload); ok {
				obs.SNI = name
			}
		}
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		fiveTuple.SrcPort, fiveTuple.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		fiveTuple.Protocol = uint8(layers.IPProtocolUDP)
	}

	obs.FiveTuple = fiveTuple
	obs.Packet = p
	return obs, nil
}

// DecodeData decodes raw capture bytes of the given link type and parses them.
func DecodeData(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType, position uint64) (*model.Observation, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.Default)
	packet.Metadata().CaptureInfo = ci
	return ParsePacket(packet, position)
}

func tcpFlags(tcp *layers.TCP) model.FlagSet {
	var flags model.FlagSet
	for _, f := range []struct {
		set  bool
		flag model.Flag
	}{
		{tcp.ACK, model.FlagACK},
		{tcp.CWR, model.FlagCWR},
		{tcp.ECE, model.FlagECE},
		{tcp.FIN, model.FlagFIN},
		{tcp.NS, model.FlagNS},
		{tcp.PSH, model.FlagPSH},
		{tcp.RST, model.FlagRST},
		{tcp.SYN, model.FlagSYN},
		{tcp.URG, model.FlagURG},
	} {
		if f.set {
			flags = flags.With(f.flag)
		}
	}
	return flags
}
