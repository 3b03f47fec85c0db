package flow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/model"
)

// ErrMalformedPersistedState is returned by Load for any structural mismatch in the input.
var ErrMalformedPersistedState = errors.New("malformed persisted flow state")

// Save writes the table as {"flow_map": [[key, record], ...]}.
// Pairs are ordered by canonical key so one table always produces the same bytes.
func (t *Table) Save(w io.Writer) error {
	records := make([]*statistic.Record, 0, t.Len())
	for _, record := range t.All() {
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b *statistic.Record) int {
		return statistic.Compare(a.Key.Canonical(), b.Key.Canonical())
	})

	pairs := make([][2]any, len(records))
	for i, record := range records {
		pairs[i] = [2]any{record.Key, record}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]any{"flow_map": pairs}); err != nil {
		return fmt.Errorf("failed to encode flow table: %w", err)
	}
	return nil
}

// Load reads a table written by Save. Unknown or legacy fields, wrong types, missing
// fields and duplicate flows all fail with ErrMalformedPersistedState, and no table is returned.
func Load(r io.Reader, cfg statistic.RecordConfig, numShards uint32) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow table: %w", err)
	}

	var state struct {
		FlowMap *[]json.RawMessage `json:"flow_map"`
	}
	if err := model.DecodeStrict(data, &state); err != nil {
		return nil, malformed(err)
	}
	if state.FlowMap == nil {
		return nil, malformed(errors.New("missing flow_map"))
	}

	table := NewTable(cfg, numShards)
	for i, raw := range *state.FlowMap {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, malformed(fmt.Errorf("flow_map[%d]: %w", i, err))
		}
		if len(pair) != 2 {
			return nil, malformed(fmt.Errorf("flow_map[%d]: expected a [key, record] pair, got %d elements", i, len(pair)))
		}

		var key statistic.Key
		if err := key.UnmarshalJSON(pair[0]); err != nil {
			return nil, malformed(fmt.Errorf("flow_map[%d] key: %w", i, err))
		}
		record, err := statistic.DecodeRecord(pair[1], key, cfg)
		if err != nil {
			return nil, malformed(fmt.Errorf("flow_map[%d] record %s: %w", i, key, err))
		}
		if err := table.Insert(record); err != nil {
			return nil, malformed(fmt.Errorf("flow_map[%d]: %w", i, err))
		}
	}
	return table, nil
}

// LoadBytes is Load over an in-memory document.
func LoadBytes(data []byte, cfg statistic.RecordConfig, numShards uint32) (*Table, error) {
	return Load(bytes.NewReader(data), cfg, numShards)
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedPersistedState, err)
}
