package flow

import (
	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/model"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// JSONWriter persists the whole table as the flow_map state document.
// The file is replaced atomically so a reader never sees a half-written state.
type JSONWriter struct {
	path string
}

// NewJSONWriter creates a writer for the state file at path.
func NewJSONWriter(path string) (model.Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("json writer requires a path")
	}
	return &JSONWriter{path: path}, nil
}

// Name identifies the writer in logs.
func (w *JSONWriter) Name() string {
	return "json:" + w.path
}

// Write saves the table. It expects the payload to be a *flow.Table.
func (w *JSONWriter) Write(_ context.Context, payload interface{}, _ string) error {
	table, ok := payload.(*Table)
	if !ok {
		return fmt.Errorf("invalid payload type for JSONWriter: expected *flow.Table, got %T", payload)
	}
	return SaveFile(table, w.path)
}

// SaveFile writes the table to path through a temporary file in the same directory.
func SaveFile(table *Table, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".flows-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := table.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move state file into place: %w", err)
	}
	return nil
}

// LoadFile reads a state file written by SaveFile.
func LoadFile(path string, cfg statistic.RecordConfig, numShards uint32) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer file.Close()
	return Load(file, cfg, numShards)
}
