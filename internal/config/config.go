// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package config loads and validates the Flockwatch node configuration.
//
// Configuration is loaded via Koanf v2 with layered sources, highest
// priority last:
//
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables (FLOCKWATCH_NODE_NAME -> node.name, ...)
//
// Only configuration errors are fatal: a missing node name, a malformed
// store path, or interval settings that cannot produce a working cycle.
// Everything else the daemon degrades around at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/flockwatch/config.yaml",
	"/etc/flockwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is stripped from environment variable names before they are
// mapped onto config paths.
const envPrefix = "FLOCKWATCH_"

// Config is the root configuration for one observer node.
type Config struct {
	Node     NodeConfig     `koanf:"node"`
	Interval IntervalConfig `koanf:"interval"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// NodeConfig identifies this observer within the fleet.
type NodeConfig struct {
	// Name is the unique identity of this node in the observers relation.
	// Required; there is no usable default.
	Name string `koanf:"name"`

	// Location is a free-text label for reports ("warehouse east").
	Location string `koanf:"location"`

	// SeeksProcessorRole marks this node as a candidate for the single
	// processor role. At most one node per fleet should normally set this,
	// but several candidates are safe: the claim protocol admits one.
	SeeksProcessorRole bool `koanf:"seeks_processor_role"`
}

// IntervalConfig drives the scan/stage/reduce cycle timing.
type IntervalConfig struct {
	// Width is the bucket width. All nodes must agree on it.
	Width time.Duration `koanf:"width"`

	// ScanDuration bounds a single scan. Must be shorter than Width.
	ScanDuration time.Duration `koanf:"scan_duration"`

	// SettleDelay is how long the processor waits after its own scan for
	// slower observers to finish staging before it reduces the bucket.
	SettleDelay time.Duration `koanf:"settle_delay"`

	// LeaseTimeout is the processor lease staleness threshold. A claim
	// older than this is up for grabs.
	LeaseTimeout time.Duration `koanf:"lease_timeout"`
}

// DatabaseConfig configures the shared relational store.
type DatabaseConfig struct {
	// Path is the DuckDB database path, or ":memory:" for tests.
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage, e.g. "1GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// ServerConfig configures the health/metrics HTTP listener.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name:               "",
			Location:           "",
			SeeksProcessorRole: false,
		},
		Interval: IntervalConfig{
			Width:        5 * time.Minute,
			ScanDuration: 10 * time.Second,
			SettleDelay:  60 * time.Second,
			LeaseTimeout: 10 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/flockwatch.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9187,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration from defaults, an optional YAML file and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// FLOCKWATCH_NODE_NAME -> node.name
	// FLOCKWATCH_INTERVAL_SCAN_DURATION -> interval.scan_duration
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first path found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names onto koanf paths.
// The first underscore-separated token becomes the section; the rest form
// the key, e.g. NODE_SEEKS_PROCESSOR_ROLE -> node.seeks_processor_role.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}

// Validate checks the configuration for the errors that are fatal at
// startup per the error-handling design: missing identity, malformed store
// parameters, and interval settings that cannot produce a working cycle.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Node.Name) == "" {
		errs = append(errs, errors.New("node.name is required: each observer needs a unique identity"))
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.Interval.Width <= 0 {
		errs = append(errs, fmt.Errorf("interval.width must be positive, got %s", c.Interval.Width))
	}
	if c.Interval.ScanDuration <= 0 {
		errs = append(errs, fmt.Errorf("interval.scan_duration must be positive, got %s", c.Interval.ScanDuration))
	}
	if c.Interval.LeaseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("interval.lease_timeout must be positive, got %s", c.Interval.LeaseTimeout))
	}
	if c.Interval.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("interval.settle_delay must not be negative, got %s", c.Interval.SettleDelay))
	}

	// The scan must fit inside the interval, and the processor's settle
	// delay must leave room for the scan that precedes it.
	if c.Interval.Width > 0 && c.Interval.ScanDuration >= c.Interval.Width {
		errs = append(errs, fmt.Errorf("interval.scan_duration (%s) must be shorter than interval.width (%s)",
			c.Interval.ScanDuration, c.Interval.Width))
	}
	if c.Interval.Width > 0 && c.Interval.SettleDelay >= c.Interval.Width-c.Interval.ScanDuration {
		errs = append(errs, fmt.Errorf("interval.settle_delay (%s) must be shorter than interval.width minus scan_duration (%s)",
			c.Interval.SettleDelay, c.Interval.Width-c.Interval.ScanDuration))
	}

	// A lease shorter than the interval would expire between renewals.
	if c.Interval.LeaseTimeout > 0 && c.Interval.Width > 0 && c.Interval.LeaseTimeout <= c.Interval.Width {
		errs = append(errs, fmt.Errorf("interval.lease_timeout (%s) must exceed interval.width (%s) or the lease expires between heartbeats",
			c.Interval.LeaseTimeout, c.Interval.Width))
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port))
		}
	}

	return errors.Join(errs...)
}
