package query

import (
	"context"
	"fmt"

	"Go2NetFlow/internal/engine/impl/flow"
	"Go2NetFlow/internal/engine/impl/flow/statistic"
)

// Summary aggregates the flows of one table.
type Summary struct {
	Flows         uint64 `json:"flows"`
	Packets       uint64 `json:"packets"`
	Bytes         uint64 `json:"bytes"`
	Bidirectional uint64 `json:"bidirectional"`
}

// Querier defines the interface for querying flow data.
type Querier interface {
	// Flows returns every flow report ordered by key.
	Flows(ctx context.Context) ([]flow.Report, error)
	// Flow looks one flow up in either orientation.
	Flow(ctx context.Context, key statistic.Key) (flow.Report, bool, error)
	Summary(ctx context.Context) (Summary, error)
}

// tableQuerier answers queries from an in-memory flow table.
type tableQuerier struct {
	table *flow.Table
}

// NewTableQuerier creates a querier over table. The table must not be modified afterwards.
func NewTableQuerier(table *flow.Table) Querier {
	return &tableQuerier{table: table}
}

// NewStateQuerier loads a JSON state file and serves it.
func NewStateQuerier(path string, cfg statistic.RecordConfig, numShards uint32) (Querier, error) {
	table, err := flow.LoadFile(path, cfg, numShards)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow state: %w", err)
	}
	return NewTableQuerier(table), nil
}

func (q *tableQuerier) Flows(_ context.Context) ([]flow.Report, error) {
	return q.table.Snapshot("flows").Reports(), nil
}

func (q *tableQuerier) Flow(_ context.Context, key statistic.Key) (flow.Report, bool, error) {
	record, ok := q.table.Get(key)
	if !ok {
		return flow.Report{}, false, nil
	}
	return flow.NewReport(record), true, nil
}

func (q *tableQuerier) Summary(_ context.Context) (Summary, error) {
	var s Summary
	for _, record := range q.table.All() {
		s.Flows++
		s.Packets += record.PacketCount()
		s.Bytes += record.ByteCount()
		if record.Bidirectional {
			s.Bidirectional++
		}
	}
	return s, nil
}
