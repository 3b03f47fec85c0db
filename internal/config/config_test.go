package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// 1. Write a config file
	content := `
flow:
  activity_timeout: "2s"
  num_shards: 16
  retain_packets: true
  transport_protocols: [6]
manager:
  num_workers: 2
writers:
  - type: "nats"
    enabled: true
    nats:
      url: "nats://localhost:4222"
api:
  backend: "clickhouse"
logging:
  debug: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	// 2. Load it
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// 3. Verify explicit values and defaults
	if cfg.ActivityTimeout() != 2*time.Second {
		t.Errorf("Expected activity timeout 2s, got %s", cfg.ActivityTimeout())
	}
	if cfg.Flow.NumShards != 16 || !cfg.Flow.RetainPackets || !cfg.Logging.Debug {
		t.Errorf("Unexpected flow settings %+v", cfg.Flow)
	}
	if cfg.Manager.NumWorkers != 2 || cfg.Manager.SizeOfPacketChannel != defaultSizeOfPacketChannel {
		t.Errorf("Unexpected manager settings %+v", cfg.Manager)
	}
	if cfg.Writers[0].NATS.Subject != defaultNATSSubject {
		t.Errorf("Expected the default NATS subject, got %q", cfg.Writers[0].NATS.Subject)
	}
	if cfg.API.ListenAddr != defaultAPIListenAddr || cfg.API.Backend != "clickhouse" {
		t.Errorf("Unexpected api settings %+v", cfg.API)
	}
	if !cfg.AcceptsTransport(6) || cfg.AcceptsTransport(17) {
		t.Error("Expected only tcp to be accepted")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ActivityTimeout() != 5*time.Second {
		t.Errorf("Expected the default timeout of 5s, got %s", cfg.ActivityTimeout())
	}
	if cfg.Manager.NumWorkers != defaultNumWorkers || cfg.API.Backend != "state" {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if !cfg.AcceptsTransport(6) || !cfg.AcceptsTransport(132) {
		t.Error("Expected an empty protocol list to accept everything")
	}
	if _, ok := cfg.ClickHouseWriter(); ok {
		t.Error("Expected no ClickHouse writer by default")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad duration", "flow:\n  activity_timeout: soon\n"},
		{"negative duration", "flow:\n  activity_timeout: -1s\n"},
		{"unknown backend", "api:\n  backend: redis\n"},
		{"not yaml", "flow: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.input)); err == nil {
				t.Errorf("Expected %q to be rejected", tt.input)
			}
		})
	}
}

func TestClickHouseWriter(t *testing.T) {
	cfg, err := Parse([]byte(`
writers:
  - type: clickhouse
    enabled: false
    clickhouse: {host: disabled}
  - type: clickhouse
    enabled: true
    clickhouse: {host: db, port: 9000}
`))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	ch, ok := cfg.ClickHouseWriter()
	if !ok || ch.Host != "db" || ch.Port != 9000 {
		t.Errorf("Expected the enabled writer's settings, got %+v (found %t)", ch, ok)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected a not-exist error, got %v", err)
	}
}
