package flow

import (
	"Go2NetFlow/internal/model"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SummaryData holds the metadata for a snapshot, internal to the writer.
type SummaryData struct {
	TableName    string `json:"table_name"`
	TotalFlows   int    `json:"total_flows"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	Shards       int    `json:"shards"`
	Timestamp    string `json:"timestamp"`
}

// GobWriter handles writing flow table snapshots to disk in gob format,
// one file per non-empty shard plus a summary.json.
type GobWriter struct {
	rootPath string
}

// NewGobWriter creates a new snapshot writer rooted at rootPath.
func NewGobWriter(rootPath string) model.Writer {
	return &GobWriter{rootPath: rootPath}
}

// Name identifies the writer in logs.
func (w *GobWriter) Name() string {
	return "gob:" + w.rootPath
}

// Write serializes and writes a snapshot of the table to disk.
// It expects the payload to be a *flow.Table.
func (w *GobWriter) Write(_ context.Context, payload interface{}, timestamp string) error {
	table, ok := payload.(*Table)
	if !ok {
		return fmt.Errorf("invalid payload type for GobWriter: expected *flow.Table, got %T", payload)
	}
	return w.writeSnapshot(table.Snapshot("flows"), timestamp)
}

func (w *GobWriter) writeSnapshot(snapshot SnapshotData, timestamp string) error {
	// 1. Create timestamped directory
	tableDir := filepath.Join(w.rootPath, timestamp, snapshot.Name)
	if err := os.MkdirAll(tableDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	totalFlows := 0
	totalPackets, totalBytes := uint64(0), uint64(0)
	// 2. Write each shard's reports to a .dat file
	for i, shard := range snapshot.Shards {
		if len(shard) == 0 {
			continue
		}
		totalFlows += len(shard)
		for _, report := range shard {
			totalPackets += report.ForwardPackets + report.BackwardPackets
			totalBytes += report.ForwardBytes + report.BackwardBytes
		}

		filePath := filepath.Join(tableDir, fmt.Sprintf("shard_%d.dat", i))
		if err := writeGobFile(filePath, shard); err != nil {
			return err
		}
	}

	// 3. Write summary file if there were any flows
	if totalFlows == 0 {
		return nil
	}
	summary := SummaryData{
		TableName:    snapshot.Name,
		TotalFlows:   totalFlows,
		TotalBytes:   totalBytes,
		TotalPackets: totalPackets,
		Shards:       len(snapshot.Shards),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	summaryFile, err := os.Create(filepath.Join(tableDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

func writeGobFile(filePath string, reports []Report) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(reports); err != nil {
		return fmt.Errorf("failed to encode flows to gob for file '%s': %w", filePath, err)
	}
	return nil
}
