// Package config loads the shardview configuration file
// (~/.config/shardview/config.yaml).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/shardview/internal/safetensors"
)

// DefaultServerAddress is used by serve when neither a flag nor the config
// file names an address.
const DefaultServerAddress = "127.0.0.1:8080"

// DefaultValuesRate is the sustained number of /values requests per second
// the server allows.
const DefaultValuesRate = 20.0

// Config mirrors the YAML file. Pointer fields distinguish "not set" from
// zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	// Reader limits
	MaxShards      *int  `yaml:"max_shards"`
	MaxTensors     *int  `yaml:"max_tensors"`
	StrictCapacity *bool `yaml:"strict_capacity"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	ValuesRate    *float64 `yaml:"values_rate"`
}

// Path returns the default config file location, or "" when the user
// config directory is unknown.
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "shardview", "config.yaml")
}

// Load reads the config file at the default location. A missing or
// unreadable file yields a zero Config.
func Load() Config {
	path := Path()
	if path == "" {
		return Config{}
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}
	}
	return cfg
}

// LoadFile reads the config file at path. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no command could use.
func (c Config) Validate() error {
	if c.MaxShards != nil && *c.MaxShards < 0 {
		return fmt.Errorf("max_shards must not be negative, got %d", *c.MaxShards)
	}
	if c.MaxTensors != nil && *c.MaxTensors < 0 {
		return fmt.Errorf("max_tensors must not be negative, got %d", *c.MaxTensors)
	}
	if c.ValuesRate != nil && *c.ValuesRate <= 0 {
		return fmt.Errorf("values_rate must be positive, got %g", *c.ValuesRate)
	}
	switch c.LogFormat {
	case "", "text", "json", "pretty":
	default:
		return fmt.Errorf("log_format must be text, json or pretty, got %q", c.LogFormat)
	}
	return nil
}

// Limits converts the reader settings. Unset fields keep the reader's
// defaults.
func (c Config) Limits() safetensors.Limits {
	l := safetensors.DefaultLimits()
	if c.MaxShards != nil && *c.MaxShards > 0 {
		l.MaxShards = *c.MaxShards
	}
	if c.MaxTensors != nil && *c.MaxTensors > 0 {
		l.MaxTensors = *c.MaxTensors
	}
	if c.StrictCapacity != nil {
		l.Strict = *c.StrictCapacity
	}
	return l
}

// Address returns the configured server address or the default.
func (c Config) Address() string {
	if c.ServerAddress != "" {
		return c.ServerAddress
	}
	return DefaultServerAddress
}

// Rate returns the configured /values request rate or the default.
func (c Config) Rate() float64 {
	if c.ValuesRate != nil {
		return *c.ValuesRate
	}
	return DefaultValuesRate
}
