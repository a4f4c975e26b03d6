// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

/*
reduce.go - Per-Bucket Reduction

ReduceBucket turns a bucket's staged readings into at most one sighting per
target: the reading with the maximum signal strength across all observers.
Ties break to the lexicographically lowest observer name, then earliest
observation timestamp - pinned explicitly so every reducer picks the same
winner regardless of row arrival order.

The whole reduction is one transaction: winner selection, target upserts,
sighting upserts and the processed-flag sweep commit together or not at
all. Combined with the (target, bucket_start) primary key and the
strength-guarded upsert, two reducers racing on the same bucket cannot
produce divergent winners or duplicate sightings; one transaction commits,
the other conflicts and retries against already-processed rows, which is a
no-op.

Rows staged into a bucket after it was reduced stay processed = FALSE
forever. That is a known, accepted limitation of the settle-delay design;
they are deliberately not reprocessed.
*/
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/flockwatch/flockwatch/internal/models"
)

// ReduceResult summarizes one reduction for logging and metrics.
type ReduceResult struct {
	// Targets is the number of distinct targets with unprocessed readings.
	Targets int
	// Processed is the number of staged rows marked processed.
	Processed int64
}

// ReduceBucket reduces one bucket. Idempotent: once a bucket's rows are
// processed, re-invocation finds nothing to do and returns a zero result.
func (db *DB) ReduceBucket(ctx context.Context, bucketStart, bucketEnd, now time.Time) (ReduceResult, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var result ReduceResult
	err := withConflictRetry(ctx, func() error {
		var err error
		result, err = db.reduceBucketTx(ctx, bucketStart, bucketEnd, now)
		return err
	})
	return result, err
}

func (db *DB) reduceBucketTx(ctx context.Context, bucketStart, bucketEnd, now time.Time) (ReduceResult, error) {
	var result ReduceResult

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin reduction transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	// The ordering pins the winner per target: strongest signal first,
	// ties to the lowest observer name, then the earliest observation.
	rows, err := tx.QueryContext(ctx,
		`SELECT identifier, label, observer_name, strength, observed_at
			FROM staged_readings
			WHERE bucket_start = ? AND processed = FALSE
			ORDER BY identifier ASC, strength DESC, observer_name ASC, observed_at ASC`,
		bucketStart)
	if err != nil {
		return result, fmt.Errorf("failed to query unprocessed readings: %w", err)
	}

	type winner struct {
		identifier string
		label      string
		observer   string
		strength   int
	}
	var winners []winner
	seen := make(map[string]bool)

	for rows.Next() {
		var w winner
		var observedAt time.Time
		if err := rows.Scan(&w.identifier, &w.label, &w.observer, &w.strength, &observedAt); err != nil {
			closeQuietly(rows)
			return result, fmt.Errorf("failed to scan staged reading: %w", err)
		}
		// First row per identifier is the winner by ORDER BY.
		if !seen[w.identifier] {
			seen[w.identifier] = true
			winners = append(winners, w)
		}
	}
	if err := rows.Err(); err != nil {
		closeQuietly(rows)
		return result, fmt.Errorf("failed to iterate staged readings: %w", err)
	}
	closeQuietly(rows)

	for _, w := range winners {
		// Create-if-absent; the most recent non-empty label wins.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO targets (identifier, label, first_seen, last_seen)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (identifier) DO UPDATE SET
					label = CASE WHEN EXCLUDED.label != '' THEN EXCLUDED.label ELSE targets.label END,
					last_seen = EXCLUDED.last_seen`,
			w.identifier, w.label, now, now); err != nil {
			return result, fmt.Errorf("failed to upsert target %s: %w", w.identifier, err)
		}

		// Max-strength-wins across repeated invocations: an existing
		// sighting is only overwritten by a strictly stronger reading.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sightings
				(target_identifier, observer_name, strength, bucket_start, bucket_end, reduced_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (target_identifier, bucket_start) DO UPDATE SET
					observer_name = EXCLUDED.observer_name,
					strength = EXCLUDED.strength,
					reduced_at = EXCLUDED.reduced_at
				WHERE EXCLUDED.strength > sightings.strength`,
			w.identifier, w.observer, w.strength, bucketStart, bucketEnd, now); err != nil {
			return result, fmt.Errorf("failed to upsert sighting for %s: %w", w.identifier, err)
		}
	}

	// Processed means "considered", not "kept": losers are marked too.
	res, err := tx.ExecContext(ctx,
		`UPDATE staged_readings SET processed = TRUE
			WHERE bucket_start = ? AND processed = FALSE`, bucketStart)
	if err != nil {
		return result, fmt.Errorf("failed to mark readings processed: %w", err)
	}
	processed, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to read processed count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit reduction: %w", err)
	}

	result.Targets = len(winners)
	result.Processed = processed
	return result, nil
}

// GetSightings returns the reduced series for one bucket, ordered by
// target identifier. The report layer reads this relation directly; this
// accessor exists for health checks and tests.
func (db *DB) GetSightings(ctx context.Context, bucketStart time.Time) ([]models.Sighting, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT target_identifier, observer_name, strength, bucket_start, bucket_end, reduced_at
			FROM sightings WHERE bucket_start = ?
			ORDER BY target_identifier`, bucketStart)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Sighting
	for rows.Next() {
		var s models.Sighting
		if err := rows.Scan(&s.TargetIdentifier, &s.ObserverName, &s.Strength,
			&s.BucketStart, &s.BucketEnd, &s.ReducedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetTarget returns one target row, or nil when the identifier is unknown.
func (db *DB) GetTarget(ctx context.Context, identifier string) (*models.Target, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var t models.Target
	err := db.conn.QueryRowContext(ctx,
		`SELECT identifier, label, first_seen, last_seen FROM targets WHERE identifier = ?`,
		identifier).Scan(&t.Identifier, &t.Label, &t.FirstSeen, &t.LastSeen)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan target: %w", err)
	}
	return &t, nil
}
