// Package config reads the engine configuration file used by the CLI.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreDiskv  = "diskv"
)

// Config is the file-level configuration. JSON files are read too.
type Config struct {
	Store    string        `yaml:"store"`
	Workers  int           `yaml:"workers"`
	LogLevel string        `yaml:"log_level"`
	Redis    RedisConfig   `yaml:"redis"`
	Diskv    DiskvConfig   `yaml:"diskv"`
	HTTP     HTTPConfig    `yaml:"http"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Lock     LockConfig    `yaml:"lock"`
	// Aliases rename the head of an unresolved expression, e.g. svc -> service.
	Aliases map[string]string `yaml:"aliases"`
	// Commands names a commands.yaml whose entries become tasks.
	Commands    string            `yaml:"commands"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// PersistenceConfig transforms instance data on its way to the store.
type PersistenceConfig struct {
	// Mask lists regular expressions; matching data keys are stored masked.
	Mask []string `yaml:"mask"`
	// EncryptionKey is a base64 AES-256 key sealing state data at rest.
	EncryptionKey string `yaml:"encryption_key"`
	// FallbackKeys are retired base64 keys still accepted for reading.
	FallbackKeys []string `yaml:"fallback_keys"`
}

// Keys decodes the encryption keys. The active key is nil when unset.
func (p PersistenceConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if p.EncryptionKey == "" {
		return nil, nil, nil
	}
	if active, err = base64.StdEncoding.DecodeString(p.EncryptionKey); err != nil {
		return nil, nil, fmt.Errorf("persistence.encryption_key: %w", err)
	}
	for i, k := range p.FallbackKeys {
		key, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, nil, fmt.Errorf("persistence.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type DiskvConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig enables /metrics on HTTP.Addr, or on Addr when it is set.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LockConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store:    StoreMemory,
		Workers:  8,
		LogLevel: "info",
		Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "orchestra:"},
		Diskv:    DiskvConfig{Path: "data"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Metrics:  MetricsConfig{Enabled: true},
		Lock:     LockConfig{TTL: 30 * time.Second},
		Aliases:  map[string]string{"svc": "service", "infra": "infrastructure"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis store needs redis.addr"))
		}
	case StoreDiskv:
		if c.Diskv.Path == "" {
			errs = append(errs, errors.New("diskv store needs diskv.path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if _, _, err := c.Persistence.Keys(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
