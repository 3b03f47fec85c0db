package flow

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"Go2NetFlow/internal/engine/impl/flow/statistic"
)

// Report is the flat, exported view of one flow record used by the exporters and the query API.
type Report struct {
	Key                string            `json:"key"`
	TransportProtocol  uint8             `json:"transport_protocol"`
	SrcIP              string            `json:"src"`
	SrcPort            uint16            `json:"src_port"`
	DstIP              string            `json:"dst"`
	DstPort            uint16            `json:"dst_port"`
	SNI                string            `json:"sni,omitempty"`
	Bidirectional      bool              `json:"bidirectional"`
	FirstSeen          time.Time         `json:"first_seen"`
	LastSeen           time.Time         `json:"last_seen"`
	ForwardPackets     uint64            `json:"forward_packets"`
	ForwardBytes       uint64            `json:"forward_bytes"`
	BackwardPackets    uint64            `json:"backward_packets"`
	BackwardBytes      uint64            `json:"backward_bytes"`
	ForwardInitWindow  *uint16           `json:"forward_init_window,omitempty"`
	BackwardInitWindow *uint16           `json:"backward_init_window,omitempty"`
	ForwardPSH         uint64            `json:"forward_psh"`
	BackwardPSH        uint64            `json:"backward_psh"`
	ForwardURG         uint64            `json:"forward_urg"`
	BackwardURG        uint64            `json:"backward_urg"`
	NetworkProtocols   []uint16          `json:"network_protocols"`
	PacketLength       statistic.Summary `json:"packet_length"`
	InterArrival       statistic.Summary `json:"inter_arrival"`
	Active             statistic.Summary `json:"active"`
	Idle               statistic.Summary `json:"idle"`
}

// NewReport flattens a record.
func NewReport(record *statistic.Record) Report {
	first, last, _ := record.Bounds()
	protocols := append(record.Forward.NetworkProtocols(), record.Backward.NetworkProtocols()...)
	slices.Sort(protocols)
	return Report{
		Key:                record.Key.String(),
		TransportProtocol:  record.Key.TransportProtocol,
		SrcIP:              record.Key.Src.String(),
		SrcPort:            record.Key.SrcPort,
		DstIP:              record.Key.Dst.String(),
		DstPort:            record.Key.DstPort,
		SNI:                record.SNI,
		Bidirectional:      record.Bidirectional,
		FirstSeen:          first.Time(),
		LastSeen:           last.Time(),
		ForwardPackets:     record.Forward.PacketCount,
		ForwardBytes:       record.Forward.ByteCount,
		BackwardPackets:    record.Backward.PacketCount,
		BackwardBytes:      record.Backward.ByteCount,
		ForwardInitWindow:  record.Forward.InitWindow,
		BackwardInitWindow: record.Backward.InitWindow,
		ForwardPSH:         record.Forward.PSHCount,
		BackwardPSH:        record.Backward.PSHCount,
		ForwardURG:         record.Forward.URGCount,
		BackwardURG:        record.Backward.URGCount,
		NetworkProtocols:   slices.Compact(protocols),
		PacketLength:       record.PacketLength(),
		InterArrival:       record.InterArrival(),
		Active:             record.Active(),
		Idle:               record.Idle(),
	}
}

// SnapshotData is a point-in-time copy of a table, one report slice per shard.
type SnapshotData struct {
	Name   string
	Shards [][]Report
}

// Snapshot copies every shard concurrently into reports.
func (t *Table) Snapshot(name string) SnapshotData {
	snapshotShards := make([][]Report, t.shardCount)
	var wg sync.WaitGroup
	wg.Add(int(t.shardCount))

	for i := 0; i < int(t.shardCount); i++ {
		go func(i int) {
			defer wg.Done()
			shard := t.shards[i]

			shard.Mu.RLock()
			reports := make([]Report, 0, len(shard.Flows))
			for _, record := range shard.Flows {
				reports = append(reports, NewReport(record))
			}
			shard.Mu.RUnlock()

			snapshotShards[i] = reports
		}(i)
	}

	wg.Wait()
	return SnapshotData{Name: name, Shards: snapshotShards}
}

// Reports returns every report of the snapshot in one slice, ordered by key.
func (s SnapshotData) Reports() []Report {
	var all []Report
	for _, shard := range s.Shards {
		all = append(all, shard...)
	}
	slices.SortFunc(all, func(a, b Report) int { return cmp.Compare(a.Key, b.Key) })
	return all
}
