package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FlowConfig holds the per-flow settings threaded into every table.
type FlowConfig struct {
	ActivityTimeout    string  `yaml:"activity_timeout"`
	NumShards          uint32  `yaml:"num_shards"`
	RetainPackets      bool    `yaml:"retain_packets"`
	TransportProtocols []uint8 `yaml:"transport_protocols"`
}

// ManagerConfig holds the configuration for the sharded ingestion manager.
type ManagerConfig struct {
	NumWorkers          int `yaml:"num_workers"`
	SizeOfPacketChannel int `yaml:"size_of_packet_channel"`
}

// JSONConfig configures the persisted state writer.
type JSONConfig struct {
	Path string `yaml:"path"`
}

// GobConfig configures the per-shard gob snapshot writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NATSConfig configures the flow record publisher.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// WriterDef defines a single writer from the config file.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	JSON       JSONConfig       `yaml:"json"`
	Gob        GobConfig        `yaml:"gob"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// APIConfig configures the read-only query API.
// Backend "state" serves the JSON state file at StatePath; "clickhouse" queries the
// first enabled ClickHouse writer's database.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Backend    string `yaml:"backend"`
	StatePath  string `yaml:"state_path"`
}

// MetricsConfig configures the Prometheus endpoint of the analyzer.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig toggles debug-level advisory notes.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Flow    FlowConfig    `yaml:"flow"`
	Manager ManagerConfig `yaml:"manager"`
	Writers []WriterDef   `yaml:"writers"`
	API     APIConfig     `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

const (
	defaultActivityTimeout     = "5s"
	defaultNumWorkers          = 4
	defaultSizeOfPacketChannel = 1000
	defaultAPIListenAddr       = ":8080"
	defaultAPIBackend          = "state"
	defaultNATSSubject         = "gonf.flows.records"
)

// LoadConfig reads the configuration from a YAML file and returns a validated Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	// Validate only fills defaults on an empty config.
	_ = cfg.Validate()
	return cfg
}

// Validate fills defaults and rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Flow.ActivityTimeout == "" {
		c.Flow.ActivityTimeout = defaultActivityTimeout
	}
	timeout, err := time.ParseDuration(c.Flow.ActivityTimeout)
	if err != nil {
		return fmt.Errorf("invalid flow activity_timeout: %w", err)
	}
	if timeout < 0 {
		return fmt.Errorf("flow activity_timeout must not be negative, got %s", timeout)
	}
	if c.Manager.NumWorkers <= 0 {
		c.Manager.NumWorkers = defaultNumWorkers
	}
	if c.Manager.SizeOfPacketChannel <= 0 {
		c.Manager.SizeOfPacketChannel = defaultSizeOfPacketChannel
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = defaultAPIListenAddr
	}
	switch c.API.Backend {
	case "":
		c.API.Backend = defaultAPIBackend
	case "state", "clickhouse":
	default:
		return fmt.Errorf("unknown api backend %q", c.API.Backend)
	}
	for i := range c.Writers {
		w := &c.Writers[i]
		if w.Type == "nats" && w.NATS.Subject == "" {
			w.NATS.Subject = defaultNATSSubject
		}
	}
	return nil
}

// ClickHouseWriter returns the settings of the first enabled ClickHouse writer.
func (c *Config) ClickHouseWriter() (ClickHouseConfig, bool) {
	for _, w := range c.Writers {
		if w.Enabled && w.Type == "clickhouse" {
			return w.ClickHouse, true
		}
	}
	return ClickHouseConfig{}, false
}

// ActivityTimeout returns the parsed flow activity timeout. Validate must have succeeded.
func (c *Config) ActivityTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Flow.ActivityTimeout)
	return d
}

// AcceptsTransport reports whether packets of the given transport protocol are aggregated.
// An empty protocol list accepts everything.
func (c *Config) AcceptsTransport(proto uint8) bool {
	if len(c.Flow.TransportProtocols) == 0 {
		return true
	}
	for _, p := range c.Flow.TransportProtocols {
		if p == proto {
			return true
		}
	}
	return false
}
