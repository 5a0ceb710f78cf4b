// Package config provides configuration management for the vitalsync client.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted in the config file.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultConfigDir returns the default config directory (~/.vitalsync).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".vitalsync"), nil
}

// DefaultConfigPath returns the default config file path (~/.vitalsync/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Config holds the sync client's configuration.
type Config struct {
	ServerURL string `yaml:"server_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	UserID    string `yaml:"user_id,omitempty"`

	// StorageBackend selects where slots are persisted: memory, file,
	// sqlite or redis.
	StorageBackend string `yaml:"storage_backend,omitempty"`
	DataDir        string `yaml:"data_dir,omitempty"`
	RedisAddr      string `yaml:"redis_addr,omitempty"`

	// EncryptionKey is a hex-encoded 32-byte key. When set, slot contents
	// are sealed at rest.
	EncryptionKey string `yaml:"encryption_key,omitempty"`
	Compression   bool   `yaml:"compression,omitempty"`

	HealthCheckPeriod time.Duration `yaml:"health_check_period,omitempty"`
	// SyncSchedule is an optional cron expression for background sync
	// ticks, e.g. "@every 5m". Empty disables the scheduler.
	SyncSchedule string `yaml:"sync_schedule,omitempty"`

	MaxQueueSize  int           `yaml:"max_queue_size,omitempty"`
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	CacheTTL      time.Duration `yaml:"cache_ttl,omitempty"`
	MaxEntryBytes int64         `yaml:"max_entry_bytes,omitempty"`

	// WebhookURL receives sync lifecycle events when set.
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// DefaultConfig returns a configuration with operational defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		StorageBackend:    BackendFile,
		HealthCheckPeriod: 10 * time.Second,
		MaxQueueSize:      100,
		MaxRetries:        3,
		CacheTTL:          7 * 24 * time.Hour,
		MaxEntryBytes:     5 * 1024 * 1024,
	}
}

// Validate checks that the configuration has required fields for operation.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	switch c.StorageBackend {
	case "", BackendMemory:
	case BackendFile, BackendSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("data_dir is required for the %s backend", c.StorageBackend)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	if c.EncryptionKey != "" {
		if _, err := c.DecodeEncryptionKey(); err != nil {
			return err
		}
	}
	if c.MaxQueueSize < 0 {
		return errors.New("max_queue_size must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	return nil
}

// IsConfigured returns true if the client can reach a dispatch server.
func (c *Config) IsConfigured() bool {
	return c.ServerURL != "" && c.APIKey != ""
}

// DecodeEncryptionKey decodes the hex-encoded at-rest encryption key.
func (c *Config) DecodeEncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Load reads the configuration from the given path. If the file does not
// exist, defaults are returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write with restricted permissions (user-only read/write)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// SaveDefault saves the configuration to the default path.
func (c *Config) SaveDefault() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.Save(path)
}
