package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/raftnode/pkg/log"
)

// Config is the on-disk description of one raftnode agent: its identity,
// its peers, storage, and timing — one YAML document describing one node
// to run.
type Config struct {
	NodeID uint64            `yaml:"node_id"`
	Listen string            `yaml:"listen"`
	Peers  map[uint64]string `yaml:"peers"`

	DataDir  string `yaml:"data_dir"`
	InMemory bool   `yaml:"in_memory"`

	ElectionTimeout time.Duration `yaml:"election_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	TickInterval    time.Duration `yaml:"tick_interval"`

	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Defaults fills in the zero-value fields a freshly-decoded Config leaves
// unset. Raft timeout defaults are owned by pkg/raft; this only covers the
// agent's own knobs.
func (c *Config) Defaults() {
	if c.DataDir == "" {
		c.DataDir = "./raftnode-data"
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = string(log.InfoLevel)
	}
}

// LoadConfig reads and decodes a YAML config file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("agent: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("agent: parse config: %w", err)
	}
	cfg.Defaults()
	if cfg.Listen == "" {
		return Config{}, fmt.Errorf("agent: config: listen address is required")
	}
	return cfg, nil
}
