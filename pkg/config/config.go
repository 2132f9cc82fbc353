// Package config loads the Strata manager configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("30s", "5m")
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
	JSON  bool   `yaml:"json"`
}

// ReplicationConfig holds replication manager settings
type ReplicationConfig struct {
	Interval                 Duration `yaml:"interval"`                   // Reconciliation period (default: 10s)
	DatanodeReplicationLimit int      `yaml:"datanode_replication_limit"` // Commands a source may have outstanding (default: 20)
	CommandDeadline          Duration `yaml:"command_deadline"`           // Lifetime of a replicate command (default: 10m)
	PendingOpExpiry          Duration `yaml:"pending_op_expiry"`          // Default pending op deadline (default: 10m)
	ContainerSize            string   `yaml:"container_size"`             // Minimum space reserved on a target, e.g. "5GiB"
	Push                     bool     `yaml:"push"`                       // Queue commands on the source instead of the target
	Parallelism              int      `yaml:"parallelism"`                // Containers handled concurrently (default: 8)
	BackoffInitial           Duration `yaml:"backoff_initial"`            // First retry delay after overload (default: 5s)
	BackoffMax               Duration `yaml:"backoff_max"`                // Retry delay cap (default: 5m)
}

// ContainerSizeBytes parses ContainerSize
func (r ReplicationConfig) ContainerSizeBytes() (uint64, error) {
	size, err := humanize.ParseBytes(r.ContainerSize)
	if err != nil {
		return 0, fmt.Errorf("invalid container_size %q: %w", r.ContainerSize, err)
	}
	return size, nil
}

// NodesConfig holds datanode heartbeat thresholds
type NodesConfig struct {
	StaleInterval Duration `yaml:"stale_interval"` // default: 30s
	DeadInterval  Duration `yaml:"dead_interval"`  // default: 2m
}

// Config is the manager configuration
type Config struct {
	NodeID      string            `yaml:"node_id"`
	BindAddr    string            `yaml:"bind_addr"` // Raft address
	DataDir     string            `yaml:"data_dir"`  // default: /var/lib/strata
	HTTPAddr    string            `yaml:"http_addr"` // Health and metrics
	GRPCAddr    string            `yaml:"grpc_addr"` // Datanode and health gRPC services
	Log         LogConfig         `yaml:"log"`
	Replication ReplicationConfig `yaml:"replication"`
	Nodes       NodesConfig       `yaml:"nodes"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, applies defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.NodeID = hostname
		}
	}
	if c.BindAddr == "" {
		c.BindAddr = "127.0.0.1:7946"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/strata"
	}
	// Expand home directory in data dir
	if strings.HasPrefix(c.DataDir, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(homeDir, c.DataDir[2:])
		}
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":9090"
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = ":9091"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	r := &c.Replication
	if r.Interval == 0 {
		r.Interval = Duration(10 * time.Second)
	}
	if r.DatanodeReplicationLimit == 0 {
		r.DatanodeReplicationLimit = 20
	}
	if r.CommandDeadline == 0 {
		r.CommandDeadline = Duration(10 * time.Minute)
	}
	if r.PendingOpExpiry == 0 {
		r.PendingOpExpiry = Duration(10 * time.Minute)
	}
	if r.ContainerSize == "" {
		r.ContainerSize = "5GiB"
	}
	if r.Parallelism == 0 {
		r.Parallelism = 8
	}
	if r.BackoffInitial == 0 {
		r.BackoffInitial = Duration(5 * time.Second)
	}
	if r.BackoffMax == 0 {
		r.BackoffMax = Duration(5 * time.Minute)
	}

	if c.Nodes.StaleInterval == 0 {
		c.Nodes.StaleInterval = Duration(30 * time.Second)
	}
	if c.Nodes.DeadInterval == 0 {
		c.Nodes.DeadInterval = Duration(2 * time.Minute)
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	for name, addr := range map[string]string{"bind_addr": c.BindAddr, "http_addr": c.HTTPAddr, "grpc_addr": c.GRPCAddr} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, addr, err))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Log.Level))
	}

	r := c.Replication
	if r.Interval <= 0 {
		errs = append(errs, errors.New("replication.interval must be positive"))
	}
	if r.DatanodeReplicationLimit < 0 {
		errs = append(errs, errors.New("replication.datanode_replication_limit must be positive"))
	}
	if r.CommandDeadline <= 0 || r.PendingOpExpiry <= 0 {
		errs = append(errs, errors.New("replication deadlines must be positive"))
	}
	if size, err := r.ContainerSizeBytes(); err != nil {
		errs = append(errs, err)
	} else if size == 0 {
		errs = append(errs, errors.New("replication.container_size must be positive"))
	}
	if r.Parallelism < 0 {
		errs = append(errs, errors.New("replication.parallelism must be positive"))
	}
	if r.BackoffInitial <= 0 || r.BackoffMax < r.BackoffInitial {
		errs = append(errs, fmt.Errorf("replication backoff must satisfy 0 < backoff_initial <= backoff_max, got %s and %s",
			r.BackoffInitial.Std(), r.BackoffMax.Std()))
	}

	if c.Nodes.StaleInterval <= 0 {
		errs = append(errs, errors.New("nodes.stale_interval must be positive"))
	}
	if c.Nodes.DeadInterval <= c.Nodes.StaleInterval {
		errs = append(errs, fmt.Errorf("nodes.dead_interval (%s) must exceed nodes.stale_interval (%s)",
			c.Nodes.DeadInterval.Std(), c.Nodes.StaleInterval.Std()))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
