// Package config handles configuration for apiflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Flush policies accepted by run.flushPolicy.
const (
	FlushPerStep  = "per_step"
	FlushEndOfRun = "end_of_run"
)

// DefaultListen is the serve address when server.listen is unset.
const DefaultListen = ":8080"

// Config represents the workspace configuration (apiflow.yaml).
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Redis  RedisConfig  `yaml:"redis"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Run    RunConfig    `yaml:"run"`

	// Execution settings
	Env           map[string]string `yaml:"env"` // Initial runtime variables
	EnvironmentID string            `yaml:"environmentId"`
	CollectionID  string            `yaml:"collectionId"`
	GlobalProxyID *int64            `yaml:"globalProxyId"`
	Proxies       []ProxyConfig     `yaml:"proxies"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// RedisConfig moves durable variables to Redis when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ServerConfig configures `apiflow serve`.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig configures the log file.
type LogConfig struct {
	File string `yaml:"file"`
}

// RunConfig holds engine options.
type RunConfig struct {
	FailOnHTTPError bool   `yaml:"failOnHttpError"`
	FlushPolicy     string `yaml:"flushPolicy"`
	Parallelism     int    `yaml:"parallelism"`
}

// ProxyConfig declares a proxy seeded into the store.
type ProxyConfig struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadFromDir looks for apiflow.yaml or apiflow.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try apiflow.yaml first
	configPath := filepath.Join(dir, "apiflow.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try apiflow.yml
	configPath = filepath.Join(dir, "apiflow.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found
	return Default(), nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(GetDataDir(), "apiflow.db")
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Run.FlushPolicy == "" {
		c.Run.FlushPolicy = FlushPerStep
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Run.FlushPolicy {
	case FlushPerStep, FlushEndOfRun:
	default:
		return fmt.Errorf("unknown run.flushPolicy %q", c.Run.FlushPolicy)
	}
	if c.Run.Parallelism < 0 {
		return fmt.Errorf("run.parallelism must not be negative")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}

	seen := make(map[int64]bool, len(c.Proxies))
	for i, p := range c.Proxies {
		if p.ID <= 0 {
			return fmt.Errorf("proxies[%d]: id must be positive", i)
		}
		if p.URL == "" {
			return fmt.Errorf("proxies[%d]: url is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("proxies[%d]: duplicate id %d", i, p.ID)
		}
		seen[p.ID] = true
	}
	if c.GlobalProxyID != nil && *c.GlobalProxyID > 0 && len(c.Proxies) > 0 && !seen[*c.GlobalProxyID] {
		return fmt.Errorf("globalProxyId %d is not declared in proxies", *c.GlobalProxyID)
	}
	return nil
}
