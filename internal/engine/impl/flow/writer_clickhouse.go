package flow

import (
	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/model"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_records (
    Timestamp         DateTime,
    FlowKey           String,
    Protocol          UInt8,
    SrcIP             String,
    SrcPort           UInt16,
    DstIP             String,
    DstPort           UInt16,
    SNI               Nullable(String),
    Bidirectional     Bool,
    FirstSeen         DateTime64(9),
    LastSeen          DateTime64(9),
    ForwardPackets    UInt64,
    ForwardBytes      UInt64,
    BackwardPackets   UInt64,
    BackwardBytes     UInt64,
    NetworkProtocols  Array(UInt16),
    LengthMean        Nullable(Float64),
    LengthStd         Nullable(Float64),
    LengthMin         Nullable(Float64),
    LengthMax         Nullable(Float64),
    IATMean           Nullable(Float64),
    IATStd            Nullable(Float64),
    ActiveMean        Nullable(Float64),
    ActiveMax         Nullable(Float64),
    IdleMean          Nullable(Float64),
    IdleMax           Nullable(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, FlowKey);
`

// SnapshotTimeLayout formats the timestamp handed to writers.
const SnapshotTimeLayout = "2006-01-02_15-04-05"

// ClickHouseWriter inserts one row per flow into the flow_records table.
// It implements the model.Writer interface.
type ClickHouseWriter struct {
	conn driver.Conn
	addr string
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := ensureTable(context.Background(), conn); err != nil {
		return nil, err
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}, nil
}

// tableConn is the part of driver.Conn needed to prepare the schema.
type tableConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// ensureTable creates flow_records, closing conn when it cannot.
func ensureTable(ctx context.Context, conn tableConn) error {
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("Error closing ClickHouse connection: %v", closeErr)
		}
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Name identifies the writer in logs.
func (w *ClickHouseWriter) Name() string {
	return "clickhouse:" + w.addr
}

// Write inserts every flow of the table as one batch.
func (w *ClickHouseWriter) Write(ctx context.Context, payload interface{}, timestamp string) error {
	table, ok := payload.(*Table)
	if !ok {
		return fmt.Errorf("invalid payload type for ClickHouse Writer: expected *flow.Table, got %T", payload)
	}
	reports := table.Snapshot("flows").Reports()
	if len(reports) == 0 {
		return nil // Nothing to write
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO flow_records")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, err := time.Parse(SnapshotTimeLayout, timestamp)
	if err != nil {
		snapshotTime = time.Now()
	}

	for _, r := range reports {
		err = batch.Append(
			snapshotTime,
			r.Key,
			r.TransportProtocol,
			r.SrcIP,
			r.SrcPort,
			r.DstIP,
			r.DstPort,
			nullableString(r.SNI),
			r.Bidirectional,
			r.FirstSeen,
			r.LastSeen,
			r.ForwardPackets,
			r.ForwardBytes,
			r.BackwardPackets,
			r.BackwardBytes,
			r.NetworkProtocols,
			r.PacketLength.Mean,
			r.PacketLength.StandardDeviation,
			r.PacketLength.Min,
			r.PacketLength.Max,
			r.InterArrival.Mean,
			r.InterArrival.StandardDeviation,
			r.Active.Mean,
			r.Active.Max,
			r.Idle.Mean,
			r.Idle.Max,
		)
		if err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d flows to ClickHouse", len(reports))
	return nil
}

// nullableString maps an absent hint to NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Close releases the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
