// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertErrorContains(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error = %v, want substring %q", err, want)
	}
}

func assertStringEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %q, got %q", field, want, got)
	}
}

func assertDurationEqual(t *testing.T, field string, got, want time.Duration) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %s, got %s", field, want, got)
	}
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	assertDurationEqual(t, "interval.width", cfg.Interval.Width, 5*time.Minute)
	assertDurationEqual(t, "interval.scan_duration", cfg.Interval.ScanDuration, 10*time.Second)
	assertDurationEqual(t, "interval.settle_delay", cfg.Interval.SettleDelay, 60*time.Second)
	assertDurationEqual(t, "interval.lease_timeout", cfg.Interval.LeaseTimeout, 10*time.Minute)
	if cfg.Node.SeeksProcessorRole {
		t.Error("seeks_processor_role should default to false")
	}
	assertStringEqual(t, "logging.level", cfg.Logging.Level, "info")
}

func TestLoadRequiresNodeName(t *testing.T) {
	// Defaults carry no node name, so a bare Load must fail validation.
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")

	_, err := Load()
	assertErrorContains(t, err, "node.name")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
	t.Setenv("FLOCKWATCH_NODE_NAME", "rpi-hallway")
	t.Setenv("FLOCKWATCH_NODE_LOCATION", "hallway")
	t.Setenv("FLOCKWATCH_NODE_SEEKS_PROCESSOR_ROLE", "true")
	t.Setenv("FLOCKWATCH_DATABASE_PATH", ":memory:")
	t.Setenv("FLOCKWATCH_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	assertNoError(t, err)

	assertStringEqual(t, "node.name", cfg.Node.Name, "rpi-hallway")
	assertStringEqual(t, "node.location", cfg.Node.Location, "hallway")
	if !cfg.Node.SeeksProcessorRole {
		t.Error("seeks_processor_role should be true")
	}
	assertStringEqual(t, "database.path", cfg.Database.Path, ":memory:")
	assertStringEqual(t, "logging.level", cfg.Logging.Level, "debug")
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
node:
  name: rpi-kitchen
  location: kitchen
interval:
  width: 10m
  scan_duration: 15s
database:
  path: ":memory:"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("FLOCKWATCH_NODE_LOCATION", "pantry") // env beats file

	cfg, err := Load()
	assertNoError(t, err)

	assertStringEqual(t, "node.name", cfg.Node.Name, "rpi-kitchen")
	assertStringEqual(t, "node.location", cfg.Node.Location, "pantry")
	assertDurationEqual(t, "interval.width", cfg.Interval.Width, 10*time.Minute)
	assertDurationEqual(t, "interval.scan_duration", cfg.Interval.ScanDuration, 15*time.Second)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Node.Name = "node-1"
		cfg.Database.Path = ":memory:"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config passes",
			mutate: func(*Config) {},
		},
		{
			name:    "missing node name",
			mutate:  func(c *Config) { c.Node.Name = "  " },
			wantErr: "node.name",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "scan longer than interval",
			mutate:  func(c *Config) { c.Interval.ScanDuration = 6 * time.Minute },
			wantErr: "scan_duration",
		},
		{
			name:    "settle delay leaves no room",
			mutate:  func(c *Config) { c.Interval.SettleDelay = 5 * time.Minute },
			wantErr: "settle_delay",
		},
		{
			name:    "lease shorter than interval",
			mutate:  func(c *Config) { c.Interval.LeaseTimeout = time.Minute },
			wantErr: "lease_timeout",
		},
		{
			name:    "negative width",
			mutate:  func(c *Config) { c.Interval.Width = -time.Minute },
			wantErr: "interval.width",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:   "port ignored when server disabled",
			mutate: func(c *Config) { c.Server.Enabled = false; c.Server.Port = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assertNoError(t, err)
				return
			}
			assertErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	assertStringEqual(t, "node.name", envTransformFunc("FLOCKWATCH_NODE_NAME"), "node.name")
	assertStringEqual(t, "seeks_processor_role", envTransformFunc("FLOCKWATCH_NODE_SEEKS_PROCESSOR_ROLE"), "node.seeks_processor_role")
	assertStringEqual(t, "scan_duration", envTransformFunc("FLOCKWATCH_INTERVAL_SCAN_DURATION"), "interval.scan_duration")
	assertStringEqual(t, "max_memory", envTransformFunc("FLOCKWATCH_DATABASE_MAX_MEMORY"), "database.max_memory")
}
