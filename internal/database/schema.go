// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

/*
schema.go - Store Schema Management

Five relations:
  - observers: one row per scanning node; carries last_seen liveness and
    the processor-role triple (is_processor, processor_claimed_at)
  - processor_lease: exactly one row, the authoritative processor lease.
    Every claim and renewal writes this row, so concurrent claim
    transactions collide on it and the store admits exactly one
  - targets: discovered signal-emitting identities
  - staged_readings: append-only raw observations, one row per observer
    that saw a target in a bucket; processed flips once during reduction
  - sightings: the reduced series, at most one row per (target, bucket)

The sightings primary key (target_identifier, bucket_start) is what bounds
concurrent reductions: two reducers racing on the same bucket converge on
one row, and max-strength-wins is enforced by the conditional upsert.
*/
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core relations.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS observers (
			name TEXT PRIMARY KEY,
			location TEXT,
			last_seen TIMESTAMP NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			is_processor BOOLEAN NOT NULL DEFAULT FALSE,
			processor_claimed_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS processor_lease (
			id INTEGER PRIMARY KEY,
			holder TEXT,
			claimed_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS targets (
			identifier TEXT PRIMARY KEY,
			label TEXT,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS staged_readings (
			id UUID PRIMARY KEY,
			identifier TEXT NOT NULL,
			label TEXT,
			observer_name TEXT NOT NULL,
			strength INTEGER NOT NULL,
			bucket_start TIMESTAMP NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS sightings (
			target_identifier TEXT NOT NULL,
			observer_name TEXT NOT NULL,
			strength INTEGER NOT NULL,
			bucket_start TIMESTAMP NOT NULL,
			bucket_end TIMESTAMP NOT NULL,
			reduced_at TIMESTAMP NOT NULL,
			PRIMARY KEY (target_identifier, bucket_start)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	// Seed the single lease row; the claim protocol only ever updates it.
	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO processor_lease (id, holder, claimed_at) VALUES (?, NULL, NULL)
			ON CONFLICT (id) DO NOTHING`, leaseRowID); err != nil {
		return fmt.Errorf("failed to seed processor lease row: %w", err)
	}

	return nil
}

// createIndexes creates secondary indexes for the reduction scan and the
// report layer's bucket range queries.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_staged_bucket_processed
			ON staged_readings (bucket_start, processed)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_bucket
			ON sightings (bucket_start)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	return nil
}
