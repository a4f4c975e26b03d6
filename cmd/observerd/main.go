// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package main is the entry point for a Flockwatch observer node.
//
// Every node runs the same binary: it scans for proximity signals, stages
// raw readings into the shared store per interval bucket, and maintains a
// heartbeat. Nodes configured with node.seeks_processor_role additionally
// compete for the single processor role; the holder reduces each bucket
// to the best sighting per target after the fleet has settled.
//
// # Application Architecture
//
// The node initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file, env)
//  2. Store: shared DuckDB database with schema bootstrap
//  3. Scanner: signal source (simulated source by default)
//  4. Coordinator: processor lease claim/renew/release protocol
//  5. Reduction engine: per-bucket best-signal reduction
//  6. Observer loop: the scan/stage/reduce cycle as a supervised service
//  7. Health listener: /healthz, /readyz and /metrics (optional)
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority last): built-in defaults, config.yaml, environment variables
// with the FLOCKWATCH_ prefix.
//
// Minimum viable observer:
//
//	export FLOCKWATCH_NODE_NAME=garden-shed
//	export FLOCKWATCH_DATABASE_PATH=/data/flockwatch.duckdb
//	./observerd
//
// Processor candidate:
//
//	export FLOCKWATCH_NODE_NAME=house
//	export FLOCKWATCH_NODE_SEEKS_PROCESSOR_ROLE=true
//	./observerd
//
// # Signal Handling
//
// The node handles graceful shutdown on SIGINT and SIGTERM: the observer
// loop finishes its cycle step, releases the processor role best-effort,
// and the health listener drains in-flight requests.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flockwatch/flockwatch/internal/api"
	"github.com/flockwatch/flockwatch/internal/config"
	"github.com/flockwatch/flockwatch/internal/coordinator"
	"github.com/flockwatch/flockwatch/internal/database"
	"github.com/flockwatch/flockwatch/internal/logging"
	"github.com/flockwatch/flockwatch/internal/observer"
	"github.com/flockwatch/flockwatch/internal/reduce"
	"github.com/flockwatch/flockwatch/internal/scanner"
	"github.com/flockwatch/flockwatch/internal/supervisor"
)

func main() {
	singleCycle := flag.Bool("single", false, "run one scan/stage/reduce cycle and exit")
	flag.Parse()

	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config not yet available
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("node", cfg.Node.Name).
		Str("location", cfg.Node.Location).
		Bool("seeks_processor_role", cfg.Node.SeeksProcessorRole).
		Str("db_path", cfg.Database.Path).
		Dur("interval_width", cfg.Interval.Width).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	logging.Info().Msg("Store initialized")

	// The simulated source is the only built-in scanner; a radio-backed
	// implementation plugs in behind the same interface.
	src := scanner.NewSimulated(8)

	coord := coordinator.New(db, cfg.Node.Name, cfg.Node.SeeksProcessorRole, cfg.Interval.LeaseTimeout)
	engine := reduce.New(db, cfg.Interval.Width)
	loop := observer.New(db, src, engine, coord, cfg.Node, cfg.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *singleCycle {
		runSingleCycle(ctx, db, loop, coord, cfg.Node)
		return
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddNodeService(loop)

	if cfg.Server.Enabled {
		tree.AddAPIService(api.NewServer(db, cfg.Node.Name, cfg.Server))
		logging.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Health listener service added")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Node stopped gracefully")
}

// runSingleCycle registers, claims if configured, runs exactly one cycle
// and releases. Useful for cron-driven deployments and smoke tests.
func runSingleCycle(ctx context.Context, db *database.DB, loop *observer.Loop, coord *coordinator.Coordinator, node config.NodeConfig) {
	logging.Info().Msg("Running a single cycle")

	if err := db.RegisterObserver(ctx, node.Name, node.Location, time.Now().UTC()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register observer")
	}
	if err := coord.Claim(ctx); err != nil {
		logging.Warn().Err(err).Msg("Role claim failed; observing only")
	}
	defer coord.Release(ctx)

	loop.RunCycle(ctx)
	logging.Info().Msg("Single cycle complete")
}
