// Package config loads the YAML configuration for the server,
// following the same Load-with-defaults shape as the teacher's
// internal/config package.
package config

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Bus      BusConfig      `yaml:"bus"`
	Host     HostConfig     `yaml:"host"`
}

// ServerConfig holds the TCP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds password-hashing settings.
type AuthConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// BusConfig holds the internal NATS bus settings.
type BusConfig struct {
	PendingMsgLimit  int `yaml:"pending_msg_limit"`
	PendingByteLimit int `yaml:"pending_byte_limit"`
}

// HostConfig holds host-console transcript logging settings.
type HostConfig struct {
	TranscriptPath  string `yaml:"transcript_path"`
	TranscriptMaxKB int    `yaml:"transcript_max_kb"`
}

const (
	defaultListenAddr       = "0.0.0.0"
	defaultPort             = 4000
	defaultDBPath           = "./tactoed.db"
	defaultPendingMsgLimit  = 512
	defaultPendingByteLimit = 4 * 1024 * 1024
	defaultTranscriptPath   = "./tactoed-host.log"
	defaultTranscriptMaxKB  = 1024
)

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config populated entirely with defaults, used when
// no config file is present (the CLI tool falls back to it).
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	// Set defaults
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDBPath
	}

	// Auth defaults
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}

	if cfg.Bus.PendingMsgLimit == 0 {
		cfg.Bus.PendingMsgLimit = defaultPendingMsgLimit
	}
	if cfg.Bus.PendingByteLimit == 0 {
		cfg.Bus.PendingByteLimit = defaultPendingByteLimit
	}

	if cfg.Host.TranscriptPath == "" {
		cfg.Host.TranscriptPath = defaultTranscriptPath
	}
	if cfg.Host.TranscriptMaxKB == 0 {
		cfg.Host.TranscriptMaxKB = defaultTranscriptMaxKB
	}
}

// WriteDefault writes a default config file to path, used by the
// `init-config` CLI subcommand.
func WriteDefault(path string) error {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
