package pcap

import (
	"Go2NetFlow/internal/engine/protocol"
	"Go2NetFlow/internal/model"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapng files start with the section header block type.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	file   *os.File
	source packetSource
}

// NewReader opens the capture file at filePath, detecting pcap or pcapng from its magic.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	source, err := newSource(bufio.NewReader(file))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header of '%s': %w", filePath, err)
	}
	return &Reader{file: file, source: source}, nil
}

// NewStreamReader reads a capture from any byte source.
func NewStreamReader(r io.Reader) (*Reader, error) {
	source, err := newSource(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	return &Reader{source: source}, nil
}

func newSource(r *bufio.Reader) (packetSource, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}

// Close closes the underlying file.
func (r *Reader) Close() {
	if r.file != nil {
		r.file.Close()
	}
}

// ReadPackets reads all packets from the capture and sends the parsed observations to out.
// Packets the decoder cannot use are logged and skipped; their index still counts toward
// the position of later packets. It returns the number of packets read from the capture.
// The channel is not closed.
func (r *Reader) ReadPackets(out chan<- *model.Observation) (uint64, error) {
	linkType := r.source.LinkType()
	var position uint64
	for {
		data, ci, err := r.source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return position, nil
		}
		if err != nil {
			return position, fmt.Errorf("failed to read packet %d: %w", position, err)
		}

		info, err := protocol.DecodeData(data, ci, linkType, position)
		position++
		if err != nil {
			// We log errors from the parser but continue processing.
			// This could be because of unsupported packet types or corrupt data.
			log.Printf("Error parsing packet: %v", err)
			continue
		}
		out <- info
	}
}
