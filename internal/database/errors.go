// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flockwatch/flockwatch/internal/logging"
)

var (
	// ErrRoleHeld is returned by ClaimProcessorRole when another observer
	// holds a live (non-stale) processor lease.
	ErrRoleHeld = errors.New("processor role held by another observer")

	// ErrLeaseLost is returned by RenewProcessorLease when this observer no
	// longer holds the processor flag, i.e. another node took the role over
	// after the lease went stale.
	ErrLeaseLost = errors.New("processor lease lost")

	// ErrNotRegistered is returned when an operation references an observer
	// name that has no row. Observers must register before coordinating.
	ErrNotRegistered = errors.New("observer not registered")
)

// isTransactionConflict reports whether err is an optimistic-concurrency
// conflict between two transactions. Conflicts are expected under
// concurrent claims and reductions and are safe to retry.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "write-write conflict")
}

// withConflictRetry runs op, retrying with exponential backoff while it
// fails with a transaction conflict. Any other error is returned as-is.
// The retry budget is bounded; callers treat exhaustion as a transient
// store error and try again on their next cycle.
func withConflictRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransactionConflict(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// rollbackQuietly aborts a transaction in error paths. sql.ErrTxDone is
// expected when the transaction was already committed or rolled back.
func rollbackQuietly(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logging.Warn().Err(err).Msg("Failed to roll back transaction")
	}
}

// closeQuietly closes a resource and explicitly ignores any error.
// Cleanup in error paths is best-effort.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
