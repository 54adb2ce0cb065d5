// Package config loads engine settings from a YAML or JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable consulted when no path is given.
const EnvPath = "LATTICE_CONFIG"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverLoam   = "loam"
)

// Config is the full engine configuration.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
	Store      StoreConfig      `mapstructure:"store"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Conflict   ConflictConfig   `mapstructure:"conflict"`
	Index      IndexConfig      `mapstructure:"index"`
	Dependency DependencyConfig `mapstructure:"dependency"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Server     ServerConfig     `mapstructure:"server"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
}

// StoreConfig selects where mutations and graphs are persisted.
type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	Path   string      `mapstructure:"path"` // directory (file, loam) or database file (sqlite)
	Redis  RedisConfig `mapstructure:"redis"`
	// Versioning makes the loam driver record every graph write in git.
	Versioning bool `mapstructure:"versioning"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	// Lock enables the distributed sync lock so replicas can share the queue.
	Lock bool `mapstructure:"lock"`
}

type QueueConfig struct {
	MaxRetries int  `mapstructure:"max_retries"`
	BatchSize  int  `mapstructure:"batch_size"`
	AutoSync   bool `mapstructure:"auto_sync"`
	Online     bool `mapstructure:"online"`
	// SyncInterval drives periodic passes in `serve`; zero disables them.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

type ConflictConfig struct {
	DefaultStrategy string `mapstructure:"default_strategy"`
	HistoryLimit    int    `mapstructure:"history_limit"`
}

type IndexConfig struct {
	QueryBudget time.Duration `mapstructure:"query_budget"`
}

type DependencyConfig struct {
	MaxDepth    int  `mapstructure:"max_depth"`
	AutoCleanup bool `mapstructure:"auto_cleanup"`
}

// RemoteConfig points the queue at an authoritative endpoint. An empty URL
// means mutations are applied to the local graph store.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	GraphID string        `mapstructure:"graph_id"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// EncryptionConfig holds hex-encoded AES-256 keys. The first key encrypts;
// the rest only decrypt.
type EncryptionConfig struct {
	Keys      []string `mapstructure:"keys"`
	PIIFields []string `mapstructure:"pii_fields"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   filepath.Join(".lattice", "data"),
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "lattice:",
			},
		},
		Queue: QueueConfig{
			MaxRetries: 3,
			BatchSize:  10,
			AutoSync:   true,
			Online:     true,
		},
		Conflict: ConflictConfig{
			DefaultStrategy: "last-write-wins",
			HistoryLimit:    100,
		},
		Index: IndexConfig{
			QueryBudget: 5 * time.Millisecond,
		},
		Dependency: DependencyConfig{
			MaxDepth:    50,
			AutoCleanup: true,
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
			GraphID: "domain",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads path, or the file named by LATTICE_CONFIG when path is empty.
// With neither set it returns Default. Keys absent from the file keep their
// defaults; unknown keys are an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	raw, err := parse(path, data)
	if err != nil {
		return Config{}, err
	}
	if err := decode(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(path string, data []byte) (map[string]any, error) {
	raw := make(map[string]any)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
		return raw, nil
	}
	// Default to YAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return raw, nil
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate checks enumerations and ranges.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverFile, DriverSQLite, DriverRedis, DriverLoam:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries: must be at least 1")
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("queue.batch_size: must be at least 1")
	}
	if c.Queue.SyncInterval < 0 {
		return fmt.Errorf("queue.sync_interval: must not be negative")
	}
	if c.Conflict.HistoryLimit < 0 {
		return fmt.Errorf("conflict.history_limit: must not be negative")
	}
	if c.Dependency.MaxDepth < 1 {
		return fmt.Errorf("dependency.max_depth: must be at least 1")
	}
	for i, p := range c.Encryption.PIIFields {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("encryption.pii_fields[%d]: %w", i, err)
		}
	}
	if _, err := c.Keys(); err != nil {
		return err
	}
	return nil
}
