package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/engine/impl/flow"
	"Go2NetFlow/internal/engine/impl/flow/statistic"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// reportColumns are scanned by scanReport, in order.
const reportColumns = `
	FlowKey, Protocol, SrcIP, SrcPort, DstIP, DstPort, SNI, Bidirectional,
	FirstSeen, LastSeen, ForwardPackets, ForwardBytes, BackwardPackets, BackwardBytes,
	NetworkProtocols, LengthMean, LengthStd, LengthMin, LengthMax,
	IATMean, IATStd, ActiveMean, ActiveMax, IdleMean, IdleMax`

// latestSnapshot restricts a query to the rows of the most recent write.
const latestSnapshot = `Timestamp = (SELECT max(Timestamp) FROM flow_records)`

// clickhouseQuerier implements the Querier interface over the flow_records table.
// Summaries carry only the columns the writer stores.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (flow.Report, error) {
	var r flow.Report
	var sni *string
	err := row.Scan(
		&r.Key, &r.TransportProtocol, &r.SrcIP, &r.SrcPort, &r.DstIP, &r.DstPort, &sni, &r.Bidirectional,
		&r.FirstSeen, &r.LastSeen, &r.ForwardPackets, &r.ForwardBytes, &r.BackwardPackets, &r.BackwardBytes,
		&r.NetworkProtocols, &r.PacketLength.Mean, &r.PacketLength.StandardDeviation,
		&r.PacketLength.Min, &r.PacketLength.Max,
		&r.InterArrival.Mean, &r.InterArrival.StandardDeviation,
		&r.Active.Mean, &r.Active.Max, &r.Idle.Mean, &r.Idle.Max,
	)
	if err != nil {
		return flow.Report{}, err
	}
	if sni != nil {
		r.SNI = *sni
	}
	r.FirstSeen, r.LastSeen = r.FirstSeen.UTC(), r.LastSeen.UTC()
	return r, nil
}

func (q *clickhouseQuerier) Flows(ctx context.Context) ([]flow.Report, error) {
	query := "SELECT" + reportColumns + " FROM flow_records WHERE " + latestSnapshot + " ORDER BY FlowKey"
	rows, err := q.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	reports := []flow.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// Flow returns the newest row of the flow, matching the stored orientation or its reverse.
func (q *clickhouseQuerier) Flow(ctx context.Context, key statistic.Key) (flow.Report, bool, error) {
	query := "SELECT" + reportColumns + ` FROM flow_records
		WHERE Protocol = ? AND (
			(SrcIP = ? AND SrcPort = ? AND DstIP = ? AND DstPort = ?) OR
			(SrcIP = ? AND SrcPort = ? AND DstIP = ? AND DstPort = ?))
		ORDER BY Timestamp DESC
		LIMIT 1`
	src, dst := key.Src.String(), key.Dst.String()
	row := q.conn.QueryRow(ctx, query, key.TransportProtocol,
		src, key.SrcPort, dst, key.DstPort,
		dst, key.DstPort, src, key.SrcPort)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return flow.Report{}, false, nil
	}
	if err != nil {
		return flow.Report{}, false, fmt.Errorf("failed to scan flow row: %w", err)
	}
	return report, true, nil
}

func (q *clickhouseQuerier) Summary(ctx context.Context) (Summary, error) {
	query := `
		SELECT
			count() AS Flows,
			sum(ForwardPackets + BackwardPackets) AS Packets,
			sum(ForwardBytes + BackwardBytes) AS Bytes,
			countIf(Bidirectional) AS Bidirectional
		FROM flow_records
		WHERE ` + latestSnapshot

	var s Summary
	row := q.conn.QueryRow(ctx, query)
	if err := row.Scan(&s.Flows, &s.Packets, &s.Bytes, &s.Bidirectional); err != nil {
		return Summary{}, fmt.Errorf("failed to scan flow summary: %w", err)
	}
	return s, nil
}
