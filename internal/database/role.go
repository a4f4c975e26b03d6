// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

/*
role.go - Processor-Role Lease Operations

The processor role is a database lease held in the single processor_lease
row: (holder, claimed_at), mutated only through the transactions below.
Every claim writes that one row whether or not a holder existed before, so
two claim transactions racing on an open (or stale) lease collide on the
same row and the store's optimistic concurrency aborts one of them; the
loser retries, finds the fresh holder, and gets ErrRoleHeld. Mutual
exclusion therefore does not depend on the transactions reading any common
row, only on both writing one. This is a lease protocol, not consensus: it
assumes bounded clock skew across the fleet and trades strict correctness
under partition for simplicity.

The observers relation mirrors the lease (is_processor,
processor_claimed_at) in the same transactions, purely as a monitoring
surface; the lease row is authoritative.

Callers pass explicit timestamps (now, staleBefore) so staleness is
decided by the coordinator's clock, which tests replace with a simulated
one.
*/
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flockwatch/flockwatch/internal/logging"
)

// leaseRowID is the fixed key of the one processor_lease row.
const leaseRowID = 1

// ClaimProcessorRole attempts to take the processor role for name.
//
// Within one transaction it (1) fails with ErrRoleHeld if the lease row
// names another observer with a claim newer than staleBefore, (2) writes
// the lease row with (name, now) - the write every claim performs, live
// holder or not, so concurrent claims serialize - and (3) mirrors the
// takeover onto the observers relation, clearing the previous holder's
// flag and setting name's.
func (db *DB) ClaimProcessorRole(ctx context.Context, name string, now, staleBefore time.Time) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return withConflictRetry(ctx, func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin claim transaction: %w", err)
		}
		defer rollbackQuietly(tx)

		// A live holder other than ourselves wins.
		var holder sql.NullString
		var claimedAt sql.NullTime
		err = tx.QueryRowContext(ctx,
			`SELECT holder, claimed_at FROM processor_lease WHERE id = ?`,
			leaseRowID).Scan(&holder, &claimedAt)
		if err != nil {
			return fmt.Errorf("failed to read processor lease: %w", err)
		}
		if holder.Valid && holder.String != name &&
			claimedAt.Valid && claimedAt.Time.After(staleBefore) {
			return fmt.Errorf("%w: %s claimed at %s",
				ErrRoleHeld, holder.String, claimedAt.Time.Format(time.RFC3339))
		}
		if holder.Valid && holder.String != name {
			logging.Warn().Str("stale_holder", holder.String).
				Msg("Taking over stale processor lease")
		}

		// The unconditional shared-row write. Racing claims both touch
		// this row; the store commits exactly one.
		if _, err := tx.ExecContext(ctx,
			`UPDATE processor_lease SET holder = ?, claimed_at = ? WHERE id = ?`,
			name, now, leaseRowID); err != nil {
			return fmt.Errorf("failed to write processor lease: %w", err)
		}

		// Mirror onto the monitoring surface.
		if _, err := tx.ExecContext(ctx,
			`UPDATE observers SET is_processor = FALSE, processor_claimed_at = NULL
				WHERE is_processor = TRUE AND name != ?`, name); err != nil {
			return fmt.Errorf("failed to clear previous processor flag: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE observers SET is_processor = TRUE, processor_claimed_at = ?
				WHERE name = ?`, now, name)
		if err != nil {
			return fmt.Errorf("failed to claim processor role: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read claim result: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("claim for %s: %w", name, ErrNotRegistered)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit claim: %w", err)
		}
		return nil
	})
}

// RenewProcessorLease extends name's lease to now. The conditional update
// on the lease row doubles as loss detection: zero rows means another
// node took the lease over after it went stale, and ErrLeaseLost is
// returned.
func (db *DB) RenewProcessorLease(ctx context.Context, name string, now time.Time) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return withConflictRetry(ctx, func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin renewal transaction: %w", err)
		}
		defer rollbackQuietly(tx)

		res, err := tx.ExecContext(ctx,
			`UPDATE processor_lease SET claimed_at = ?
				WHERE id = ? AND holder = ?`, now, leaseRowID, name)
		if err != nil {
			return fmt.Errorf("failed to renew processor lease: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read renewal result: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("renewal for %s: %w", name, ErrLeaseLost)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE observers SET processor_claimed_at = ?
				WHERE name = ? AND is_processor = TRUE`, now, name); err != nil {
			return fmt.Errorf("failed to mirror lease renewal: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit renewal: %w", err)
		}
		return nil
	})
}

// ReleaseProcessorRole clears name's lease. Best-effort on graceful
// shutdown; the lease timeout remains the authoritative failure detector
// when release never runs.
func (db *DB) ReleaseProcessorRole(ctx context.Context, name string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return withConflictRetry(ctx, func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin release transaction: %w", err)
		}
		defer rollbackQuietly(tx)

		if _, err := tx.ExecContext(ctx,
			`UPDATE processor_lease SET holder = NULL, claimed_at = NULL
				WHERE id = ? AND holder = ?`, leaseRowID, name); err != nil {
			return fmt.Errorf("failed to release processor lease: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE observers SET is_processor = FALSE, processor_claimed_at = NULL
				WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to clear processor flag: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit release: %w", err)
		}
		return nil
	})
}
