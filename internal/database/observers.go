// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flockwatch/flockwatch/internal/models"
)

// RegisterObserver upserts this node's row. Called on every startup and
// safe to repeat; it never touches the processor-role fields, which belong
// to the claim/renew/release protocol.
func (db *DB) RegisterObserver(ctx context.Context, name, location string, now time.Time) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	query := `INSERT INTO observers (name, location, last_seen, active)
		VALUES (?, ?, ?, TRUE)
		ON CONFLICT (name) DO UPDATE SET
			location = EXCLUDED.location,
			last_seen = EXCLUDED.last_seen,
			active = TRUE`

	return withConflictRetry(ctx, func() error {
		if _, err := db.conn.ExecContext(ctx, query, name, location, now); err != nil {
			return fmt.Errorf("failed to register observer %s: %w", name, err)
		}
		return nil
	})
}

// Heartbeat bumps this node's last_seen liveness timestamp. External
// monitoring polls this column; it is independent of the processor lease.
func (db *DB) Heartbeat(ctx context.Context, name string, now time.Time) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return withConflictRetry(ctx, func() error {
		res, err := db.conn.ExecContext(ctx,
			`UPDATE observers SET last_seen = ? WHERE name = ?`, now, name)
		if err != nil {
			return fmt.Errorf("failed to heartbeat observer %s: %w", name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read heartbeat result: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("heartbeat for %s: %w", name, ErrNotRegistered)
		}
		return nil
	})
}

// GetObserver returns one observer row, or nil when the name is unknown.
func (db *DB) GetObserver(ctx context.Context, name string) (*models.Observer, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT name, location, last_seen, active, is_processor, processor_claimed_at
			FROM observers WHERE name = ?`, name)

	return scanObserver(row)
}

// CurrentProcessor returns the observer currently flagged as processor,
// live or stale, or nil when no node holds the flag. Staleness is judged
// by the caller against its own clock.
func (db *DB) CurrentProcessor(ctx context.Context) (*models.Observer, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT name, location, last_seen, active, is_processor, processor_claimed_at
			FROM observers WHERE is_processor = TRUE LIMIT 1`)

	return scanObserver(row)
}

func scanObserver(row *sql.Row) (*models.Observer, error) {
	var o models.Observer
	var location sql.NullString
	var claimedAt sql.NullTime

	err := row.Scan(&o.Name, &location, &o.LastSeen, &o.Active, &o.IsProcessor, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan observer: %w", err)
	}

	o.Location = location.String
	if claimedAt.Valid {
		t := claimedAt.Time
		o.ProcessorClaimedAt = &t
	}
	return &o, nil
}
