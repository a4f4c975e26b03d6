// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package database implements the shared relational store that coordinates
// the observer fleet: observer registration and heartbeats, staged raw
// readings, the processor-role lease, and the per-bucket reduction.
//
// The store is the single shared mutable resource in the system. All
// cross-node coordination happens through transactions here; no in-process
// locks coordinate across nodes. The SQL is deliberately store-agnostic
// (transactions, conditional UPDATE, INSERT ... ON CONFLICT) so the DuckDB
// driver can be swapped for any database/sql driver with read-committed
// transactions and upsert support.
//
// Lease and staleness arithmetic is performed by callers, which pass
// explicit timestamps into every mutating operation. The store itself
// never consults the wall clock, which keeps the claim/renew protocol
// testable under a simulated clock.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/flockwatch/flockwatch/internal/config"
	"github.com/flockwatch/flockwatch/internal/logging"
)

// opTimeout bounds every individual store operation so a wedged store
// surfaces as a transient error instead of hanging the observer loop.
const opTimeout = 30 * time.Second

// DB wraps the shared store connection and provides the coordination
// operations used by the observer loop, role coordinator and reduction
// engine.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens the store and bootstraps the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	// Ensure the parent directory exists for file-backed databases.
	if dbDir := filepath.Dir(cfg.Path); cfg.Path != ":memory:" && dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	if err := db.createTables(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := db.createIndexes(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Debug().Str("path", cfg.Path).Msg("Store opened and schema verified")
	return db, nil
}

// Conn returns the underlying SQL connection. Used by tests and by
// integrators that read the sightings relation directly.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the store connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping checks that the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// ensureContext attaches the per-operation timeout when the caller has not
// already bounded the context with a deadline of its own.
func ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opTimeout)
}
