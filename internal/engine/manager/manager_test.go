package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/engine/impl/flow"
	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/metrics"
	"Go2NetFlow/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// recordingWriter keeps the payloads it receives.
type recordingWriter struct {
	name   string
	err    error
	tables []*flow.Table
	closed bool
	stamps []string
}

func (w *recordingWriter) Name() string { return w.name }

func (w *recordingWriter) Write(_ context.Context, payload interface{}, timestamp string) error {
	table, ok := payload.(*flow.Table)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	w.tables = append(w.tables, table)
	w.stamps = append(w.stamps, timestamp)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	return cfg
}

func observation(client, server net.IP, clientPort, serverPort uint16, proto uint8, fromClient bool, at time.Duration, position uint64) *model.Observation {
	ft := model.FiveTuple{SrcIP: client, DstIP: server, SrcPort: clientPort, DstPort: serverPort, Protocol: proto}
	if !fromClient {
		ft = model.FiveTuple{SrcIP: server, DstIP: client, SrcPort: serverPort, DstPort: clientPort, Protocol: proto}
	}
	return &model.Observation{
		FiveTuple: ft,
		Packet:    model.NewPacket(100, model.TimestampFromDuration(at), 0, 2048, position),
	}
}

func TestManager_ShardsAndMerges(t *testing.T) {
	// 1. Create a manager with several workers and a recording writer
	cfg := testConfig(t, "manager:\n  num_workers: 4\n  size_of_packet_channel: 8\n")
	writer := &recordingWriter{name: "recording"}
	m := metrics.New(nil)
	mgr := NewManagerWithWriters(cfg, []model.Writer{writer}, m)
	mgr.Start()

	// 2. Feed 50 conversations, alternating directions
	const flows, perFlow = 50, 6
	server := net.IP{192, 168, 1, 1}
	position := uint64(0)
	for i := 0; i < perFlow; i++ {
		for f := 0; f < flows; f++ {
			client := net.IP{10, 0, byte(f / 256), byte(f % 256)}
			mgr.InputChannel() <- observation(client, server, uint16(40000+f), 443, 6, i%2 == 0, time.Duration(i)*time.Second, position)
			position++
		}
	}

	// 3. Stop and inspect the merged table
	table, err := mgr.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if table.Len() != flows {
		t.Fatalf("Expected %d flows, got %d", flows, table.Len())
	}
	for _, record := range table.All() {
		if record.Forward.PacketCount != perFlow/2 || record.Backward.PacketCount != perFlow/2 {
			t.Errorf("Expected both orientations on one record, got %s", record)
		}
		if record.Key.DstPort != 443 {
			t.Errorf("Expected the client side to be forward, got %s", record.Key)
		}
	}

	// 4. The writer saw the merged table once and was closed
	if len(writer.tables) != 1 || writer.tables[0] != table {
		t.Errorf("Expected the merged table to be written once, got %d writes", len(writer.tables))
	}
	if _, err := time.Parse(flow.SnapshotTimeLayout, writer.stamps[0]); err != nil {
		t.Errorf("Unexpected snapshot timestamp %q: %v", writer.stamps[0], err)
	}
	if !writer.closed {
		t.Error("Expected the writer to be closed")
	}

	// 5. Metrics
	if got := testutil.ToFloat64(m.PacketsIngested); got != flows*perFlow {
		t.Errorf("Expected %d ingested packets, got %v", flows*perFlow, got)
	}
	if got := testutil.ToFloat64(m.FlowsCreated); got != flows {
		t.Errorf("Expected %d created flows, got %v", flows, got)
	}

	// 6. Stop is idempotent
	again, err := mgr.Stop(context.Background())
	if err != nil || again != table || len(writer.tables) != 1 {
		t.Error("Expected a second Stop to return the same table without writing again")
	}
}

func TestManager_MatchesSingleTable(t *testing.T) {
	cfg := testConfig(t, "manager:\n  num_workers: 3\n")
	mgr := NewManagerWithWriters(cfg, nil, nil)
	mgr.Start()

	reference := flow.NewTableFromConfig(cfg)
	client, server := net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}
	for i := 0; i < 40; i++ {
		obs := observation(client, server, uint16(1000+i%7), 53, 17, i%3 != 0, time.Duration(i)*700*time.Millisecond, uint64(i))
		mgr.InputChannel() <- obs
		if _, err := reference.Ingest(*obs); err != nil {
			t.Fatalf("Failed to ingest into reference table: %v", err)
		}
	}
	reference.Finalize()

	table, err := mgr.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !table.Equal(reference) {
		t.Error("Expected the sharded result to equal a single-table ingestion")
	}
}

func TestManager_FiltersTransport(t *testing.T) {
	cfg := testConfig(t, "flow:\n  transport_protocols: [6]\n")
	m := metrics.New(nil)
	mgr := NewManagerWithWriters(cfg, nil, m)
	mgr.Start()

	client, server := net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}
	mgr.InputChannel() <- observation(client, server, 1000, 80, 6, true, 0, 0)
	mgr.InputChannel() <- observation(client, server, 1000, 53, 17, true, 0, 1)
	bad := observation(client, server, 1000, 80, 6, true, 0, 2)
	bad.FiveTuple.DstIP = net.IP{1, 2}
	mgr.InputChannel() <- bad

	table, err := mgr.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if table.Len() != 1 {
		t.Errorf("Expected only the tcp flow, got %d flows", table.Len())
	}
	if got := testutil.ToFloat64(m.PacketsFiltered); got != 1 {
		t.Errorf("Expected 1 filtered packet, got %v", got)
	}
	if got := testutil.ToFloat64(m.IngestErrors); got != 1 {
		t.Errorf("Expected 1 ingest error, got %v", got)
	}
	if got := testutil.ToFloat64(m.PacketsReceived); got != 3 {
		t.Errorf("Expected 3 received packets, got %v", got)
	}
}

func TestManager_WriterErrorsAreJoined(t *testing.T) {
	cfg := testConfig(t, "")
	failing := &recordingWriter{name: "failing", err: errors.New("disk full")}
	healthy := &recordingWriter{name: "healthy"}
	mgr := NewManagerWithWriters(cfg, []model.Writer{failing, healthy}, nil)
	mgr.Start()
	mgr.InputChannel() <- observation(net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 1, 2, 6, true, 0, 0)

	table, err := mgr.Stop(context.Background())
	if err == nil || !errors.Is(err, failing.err) {
		t.Fatalf("Expected the writer error to be returned, got %v", err)
	}
	if table == nil || table.Len() != 1 {
		t.Error("Expected the merged table despite the writer failure")
	}
	if len(healthy.tables) != 1 {
		t.Error("Expected the healthy writer to run after the failing one")
	}
}

func TestNewManager_JSONWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.json")
	cfg := testConfig(t, fmt.Sprintf("flow:\n  retain_packets: true\nwriters:\n  - type: json\n    enabled: true\n    json:\n      path: %q\n", path))
	mgr, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	mgr.Start()
	client, server := net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}
	for i := 0; i < 4; i++ {
		mgr.InputChannel() <- observation(client, server, 5000, 80, 6, i%2 == 0, time.Duration(i)*time.Second, uint64(i))
	}
	table, err := mgr.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	loaded, err := flow.LoadFile(path, flow.RecordConfigFrom(cfg), 0)
	if err != nil {
		t.Fatalf("Failed to load written state: %v", err)
	}
	if !loaded.Equal(table) {
		t.Error("Expected the state file to match the merged table")
	}
	key, _ := statistic.NewKey(6, "10.0.0.2", "10.0.0.1", 80, 5000)
	if record, ok := loaded.Get(key); !ok || len(record.BackwardPackets) != 2 {
		t.Errorf("Expected two retained backward packets, got %v", record)
	}
}
