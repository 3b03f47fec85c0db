package flow

import (
	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/factory"
	"Go2NetFlow/internal/model"
)

// --- Factory Registration ---

func init() {
	factory.RegisterWriter("json", func(def config.WriterDef) (model.Writer, error) {
		return NewJSONWriter(def.JSON.Path)
	})
	factory.RegisterWriter("gob", func(def config.WriterDef) (model.Writer, error) {
		return NewGobWriter(def.Gob.RootPath), nil
	})
	factory.RegisterWriter("clickhouse", func(def config.WriterDef) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse)
	})
	factory.RegisterWriter("nats", func(def config.WriterDef) (model.Writer, error) {
		return NewNATSWriter(def.NATS)
	})
}

// RecordConfigFrom extracts the per-flow settings of a validated config.
func RecordConfigFrom(cfg *config.Config) statistic.RecordConfig {
	return statistic.RecordConfig{
		ActivityTimeout: cfg.ActivityTimeout(),
		RetainPackets:   cfg.Flow.RetainPackets,
	}
}

// NewTableFromConfig creates an empty table with the configured settings.
func NewTableFromConfig(cfg *config.Config) *Table {
	return NewTable(RecordConfigFrom(cfg), cfg.Flow.NumShards)
}
