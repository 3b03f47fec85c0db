package flow

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/model"
)

const defaultShardCount = 64

// ErrDuplicateKey is returned when two records for the same flow meet in one table.
var ErrDuplicateKey = errors.New("duplicate flow key")

// Shard is a part of the sharded flow map, containing its own map and a mutex.
// Maps are keyed by the canonical orientation of the flow key.
type Shard struct {
	Flows map[statistic.Key]*statistic.Record
	Mu    sync.RWMutex
}

// Table maps flow keys to flow records.
// Both orientations of a flow resolve to the same record; iteration order is unspecified.
type Table struct {
	cfg        statistic.RecordConfig
	shards     []*Shard
	shardCount uint32
}

// NewTable creates an empty table. Zero or an out-of-range numShards selects the default.
func NewTable(cfg statistic.RecordConfig, numShards uint32) *Table {
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	t := &Table{
		cfg:        cfg,
		shards:     make([]*Shard, numShards),
		shardCount: numShards,
	}
	for i := range t.shards {
		t.shards[i] = &Shard{Flows: make(map[statistic.Key]*statistic.Record)}
	}
	return t
}

// Config returns the record settings the table was created with.
func (t *Table) Config() statistic.RecordConfig { return t.cfg }

// getShard returns the shard owning key.
func (t *Table) getShard(key statistic.Key) *Shard {
	return t.shards[key.Hash()%uint64(t.shardCount)]
}

// GetOrCreate returns the record for key, inserting a fresh one on a miss.
// A new record keeps key's orientation as its forward direction.
func (t *Table) GetOrCreate(key statistic.Key) *statistic.Record {
	canonical := key.Canonical()
	shard := t.getShard(key)
	shard.Mu.Lock()
	defer shard.Mu.Unlock()

	if record, ok := shard.Flows[canonical]; ok {
		return record
	}
	record := statistic.NewRecord(key, t.cfg)
	shard.Flows[canonical] = record
	return record
}

// Get looks a record up in either orientation.
func (t *Table) Get(key statistic.Key) (*statistic.Record, bool) {
	shard := t.getShard(key)
	shard.Mu.RLock()
	defer shard.Mu.RUnlock()
	record, ok := shard.Flows[key.Canonical()]
	return record, ok
}

// Contains reports whether the flow of key is in the table.
func (t *Table) Contains(key statistic.Key) bool {
	_, ok := t.Get(key)
	return ok
}

// Insert adds a record under its own key. It fails with ErrDuplicateKey if the flow exists.
func (t *Table) Insert(record *statistic.Record) error {
	canonical := record.Key.Canonical()
	shard := t.getShard(record.Key)
	shard.Mu.Lock()
	defer shard.Mu.Unlock()

	if _, ok := shard.Flows[canonical]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, record.Key)
	}
	shard.Flows[canonical] = record
	return nil
}

// Len returns the number of flows.
func (t *Table) Len() int {
	count := 0
	for _, shard := range t.shards {
		shard.Mu.RLock()
		count += len(shard.Flows)
		shard.Mu.RUnlock()
	}
	return count
}

// All yields every (key, record) pair. The key is the record's own orientation.
// The table must not be modified during iteration.
func (t *Table) All() iter.Seq2[statistic.Key, *statistic.Record] {
	return func(yield func(statistic.Key, *statistic.Record) bool) {
		for _, shard := range t.shards {
			shard.Mu.RLock()
			records := make([]*statistic.Record, 0, len(shard.Flows))
			for _, record := range shard.Flows {
				records = append(records, record)
			}
			shard.Mu.RUnlock()

			for _, record := range records {
				if !yield(record.Key, record) {
					return
				}
			}
		}
	}
}

// Ingest folds one decoded observation into the table: it builds the key, finds or creates
// the record, resolves the direction against the record's orientation and ingests the packet.
func (t *Table) Ingest(obs model.Observation) (*statistic.Record, error) {
	key, err := statistic.KeyFromTuple(obs.FiveTuple)
	if err != nil {
		return nil, err
	}
	record := t.GetOrCreate(key)
	if err := record.Ingest(obs.Packet, record.DirectionOf(key)); err != nil {
		return nil, fmt.Errorf("failed to ingest packet %d into %s: %w", obs.Packet.Position, key, err)
	}
	if obs.SNI != "" {
		record.SetSNI(obs.SNI)
	}
	return record, nil
}

// Finalize closes the open activity burst of every record.
func (t *Table) Finalize() {
	for _, record := range t.All() {
		record.Finalize()
	}
}

// Merge moves every record of other into t. Shard tables built from disjoint key spaces
// never collide; a collision fails with ErrDuplicateKey and leaves t partially merged.
func (t *Table) Merge(other *Table) error {
	for _, record := range other.All() {
		if err := t.Insert(record); err != nil {
			return err
		}
	}
	return nil
}

// Totals returns the flow, packet and byte counts over the table.
func (t *Table) Totals() (flows int, packets, bytes uint64) {
	for _, record := range t.All() {
		flows++
		packets += record.PacketCount()
		bytes += record.ByteCount()
	}
	return flows, packets, bytes
}

// Equal reports whether both tables hold the same set of (key, record) pairs.
func (t *Table) Equal(other *Table) bool {
	if t.Len() != other.Len() {
		return false
	}
	for key, record := range t.All() {
		theirs, ok := other.Get(key)
		if !ok || !record.Equal(theirs) {
			return false
		}
	}
	return true
}
