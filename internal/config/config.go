// ============================================================================
// Package config - Daemon Configuration
// ============================================================================
//
// Package: internal/config
// Purpose: Load and validate the YAML configuration recognized by spec.md §6,
// following the same nested-struct-per-concern shape as the teacher's
// internal/cli.Config.
// ============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Compression names the supported row-group compression codecs.
type Compression string

const (
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
	CompressionGzip   Compression = "gzip"
	CompressionNone   Compression = "none"
)

// Config is the complete recognized configuration surface.
type Config struct {
	SocketPath string `yaml:"socket_path"`
	StorageDir string `yaml:"storage_dir"`
	SchemaPath string `yaml:"schema_path"`

	BatchSize      int           `yaml:"batch_size"`
	Compression    Compression   `yaml:"compression"`
	MaxConnections int           `yaml:"max_connections"`
	RotationBytes  int64         `yaml:"rotation_bytes"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	MaxFrameBytes  int           `yaml:"max_frame_bytes"`

	MetricsAddr   string        `yaml:"metrics_addr"`
	LogLevel      string        `yaml:"log_level"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Default returns the configuration defaults from spec.md §6.
func Default() Config {
	return Config{
		SocketPath:     "/tmp/logd.sock",
		StorageDir:     "./data",
		BatchSize:      1000,
		Compression:    CompressionSnappy,
		MaxConnections: 1000,
		RotationBytes:  100 << 20,
		FlushInterval:  5 * time.Second,
		QueueCapacity:  10000,
		MaxFrameBytes:  1 << 20,
		MetricsAddr:    ":9090",
		LogLevel:       "info",
		ShutdownGrace:  5 * time.Second,
	}
}

// Load reads a YAML config file, applying it on top of Default. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects nonsensical configuration values before startup.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must not be empty")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir must not be empty")
	}
	switch c.Compression {
	case CompressionSnappy, CompressionZstd, CompressionGzip, CompressionNone:
	default:
		return fmt.Errorf("compression must be one of snappy, zstd, gzip, none; got %q", c.Compression)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	if c.RotationBytes <= 0 {
		return fmt.Errorf("rotation_bytes must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("max_frame_bytes must be positive")
	}
	return nil
}
