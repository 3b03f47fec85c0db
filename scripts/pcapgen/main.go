package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// conversation is one synthetic client/server exchange.
type conversation struct {
	client, server         net.IP
	clientPort, serverPort uint16
	udp                    bool
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flowCount := flag.Int("f", 100, "Number of conversations to generate")
	packetsPerFlow := flag.Int("p", 20, "Packets per conversation, both directions")
	idleEvery := flag.Int("idle-every", 8, "Insert an idle gap after this many packets of a conversation, 0 disables")
	idleGap := flag.Duration("idle-gap", 6*time.Second, "Length of the inserted idle gaps")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	log.Printf("Generating %d conversations of %d packets into %s...", *flowCount, *packetsPerFlow, *outputFile)

	base := time.Now()
	written := 0
	for i := 0; i < *flowCount; i++ {
		conv := conversation{
			client:     net.IP{10, 0, byte(rng.Intn(256)), byte(rng.Intn(254) + 1)},
			server:     net.IP{192, 168, byte(rng.Intn(256)), byte(rng.Intn(254) + 1)},
			clientPort: uint16(rng.Intn(65535-1024) + 1024),
			serverPort: []uint16{53, 80, 443, 8080}[rng.Intn(4)],
			udp:        rng.Intn(4) == 0,
		}
		ts := base.Add(time.Duration(rng.Intn(1000)) * time.Millisecond)

		for j := 0; j < *packetsPerFlow; j++ {
			fromClient := j%2 == 0
			data, err := serialize(conv, fromClient, j, rng)
			if err != nil {
				log.Fatalf("Failed to serialize layers: %v", err)
			}
			ci := gopacket.CaptureInfo{
				Timestamp:     ts,
				CaptureLength: len(data),
				Length:        len(data),
			}
			if err := pcapWriter.WritePacket(ci, data); err != nil {
				log.Fatalf("Failed to write packet: %v", err)
			}
			written++

			ts = ts.Add(time.Duration(rng.Intn(200)+1) * time.Millisecond)
			if *idleEvery > 0 && (j+1)%*idleEvery == 0 {
				ts = ts.Add(*idleGap)
			}
		}
	}

	log.Printf("Successfully generated %d packets into %s.", written, *outputFile)
}

func serialize(conv conversation, fromClient bool, seq int, rng *rand.Rand) ([]byte, error) {
	src, dst := conv.client, conv.server
	srcPort, dstPort := conv.clientPort, conv.serverPort
	if !fromClient {
		src, dst = dst, src
		srcPort, dstPort = dstPort, srcPort
	}

	ethLayer := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:    src,
		DstIP:    dst,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}
	payload := make([]byte, rng.Intn(1400)+50)
	rng.Read(payload)

	var transport gopacket.SerializableLayer
	if conv.udp {
		ipLayer.Protocol = layers.IPProtocolUDP
		udpLayer := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
		udpLayer.SetNetworkLayerForChecksum(ipLayer)
		transport = udpLayer
	} else {
		tcpLayer := &layers.TCP{
			SrcPort: layers.TCPPort(srcPort),
			DstPort: layers.TCPPort(dstPort),
			Seq:     uint32(seq),
			SYN:     seq == 0,
			ACK:     seq > 0,
			PSH:     seq > 1,
			Window:  14600,
		}
		tcpLayer.SetNetworkLayerForChecksum(ipLayer)
		transport = tcpLayer
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, transport, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
