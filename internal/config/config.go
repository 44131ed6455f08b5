// Package config loads persistent user defaults from
// ~/.modelfetch/config.yaml, overlaying hardcoded engine defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config holds persistent user defaults. Zero values mean "not set" —
// callers fall back to the orchestrator's hardcoded defaults.
type Config struct {
	ChunkSize      string `yaml:"chunk_size"`
	ParallelFiles  int    `yaml:"parallel_files"`
	ParallelChunks int    `yaml:"parallel_chunks"`
	MaxBandwidth   string `yaml:"max_bandwidth"`
	OutputDir      string `yaml:"output_dir"`
	AllowCellular  bool   `yaml:"allow_cellular"`
}

const (
	configDirName  = ".modelfetch"
	configFileName = "config.yaml"
)

// Load reads ~/.modelfetch/config.yaml. It returns a zero-valued Config,
// not an error, if the file does not exist.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return &Config{}, nil
	}

	path := filepath.Join(home, configDirName, configFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// ChunkSizeBytes parses ChunkSize (e.g. "10MiB", "64M") into a byte
// count. It returns 0, nil when ChunkSize is unset, meaning "use the
// size-tiered default".
func (c *Config) ChunkSizeBytes() (int64, error) {
	if c.ChunkSize == "" {
		return 0, nil
	}
	return units.RAMInBytes(c.ChunkSize)
}

// MaxBandwidthBytesPerSec parses MaxBandwidth (e.g. "5MB", "512KiB")
// into bytes/sec. It returns 0, nil when MaxBandwidth is unset, meaning
// "unthrottled".
func (c *Config) MaxBandwidthBytesPerSec() (int64, error) {
	if c.MaxBandwidth == "" {
		return 0, nil
	}
	return units.RAMInBytes(c.MaxBandwidth)
}
