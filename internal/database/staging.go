// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flockwatch/flockwatch/internal/models"
)

// StageReadings appends one scan's readings to the staging relation,
// tagged with the staging observer and bucket. The batch is one
// transaction: a cancelled or failed cycle leaves no half-written scan.
// Staging is at-least-once; reduction is idempotent per bucket, so
// duplicates across retries are harmless.
func (db *DB) StageReadings(ctx context.Context, observerName string, bucketStart time.Time, readings []models.Reading, now time.Time) error {
	if len(readings) == 0 {
		return nil
	}

	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return withConflictRetry(ctx, func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin staging transaction: %w", err)
		}
		defer rollbackQuietly(tx)

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO staged_readings
				(id, identifier, label, observer_name, strength, bucket_start, observed_at, processed)
				VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)`)
		if err != nil {
			return fmt.Errorf("failed to prepare staging insert: %w", err)
		}
		defer closeQuietly(stmt)

		for _, r := range readings {
			if _, err := stmt.ExecContext(ctx,
				uuid.New(), r.Identifier, r.Label, observerName, r.Strength, bucketStart, now); err != nil {
				return fmt.Errorf("failed to stage reading %s: %w", r.Identifier, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit staged readings: %w", err)
		}
		return nil
	})
}

// CountUnprocessed returns the number of staged rows awaiting reduction in
// a bucket. Used by health reporting and tests.
func (db *DB) CountUnprocessed(ctx context.Context, bucketStart time.Time) (int, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staged_readings WHERE bucket_start = ? AND processed = FALSE`,
		bucketStart).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed readings: %w", err)
	}
	return n, nil
}

// GetStagedReadings returns every staged row in a bucket, processed or
// not, ordered deterministically. Primarily a test and debugging aid.
func (db *DB) GetStagedReadings(ctx context.Context, bucketStart time.Time) ([]models.StagedReading, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, identifier, label, observer_name, strength, bucket_start, observed_at, processed
			FROM staged_readings WHERE bucket_start = ?
			ORDER BY identifier, observer_name`, bucketStart)
	if err != nil {
		return nil, fmt.Errorf("failed to query staged readings: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.StagedReading
	for rows.Next() {
		var sr models.StagedReading
		if err := rows.Scan(&sr.ID, &sr.Identifier, &sr.Label, &sr.ObserverName,
			&sr.Strength, &sr.BucketStart, &sr.ObservedAt, &sr.Processed); err != nil {
			return nil, fmt.Errorf("failed to scan staged reading: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}
