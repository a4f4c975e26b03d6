// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package database

import (
	"context"
	"errors"
	"testing"
)

func TestIsTransactionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transaction conflict", errors.New("Transaction conflict: adjacent write"), true},
		{"conflict on update", errors.New("Conflict on update of row"), true},
		{"write-write", errors.New("write-write conflict detected"), true},
		{"unrelated", errors.New("syntax error at position 3"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransactionConflict(tt.err); got != tt.want {
				t.Errorf("isTransactionConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithConflictRetryRetriesConflicts(t *testing.T) {
	calls := 0
	err := withConflictRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("Transaction conflict: try again")
		}
		return nil
	})
	checkNoError(t, err)
	checkIntEqual(t, "calls", calls, 3)
}

func TestWithConflictRetryStopsOnOtherErrors(t *testing.T) {
	calls := 0
	sentinel := errors.New("disk on fire")
	err := withConflictRetry(context.Background(), func() error {
		calls++
		return sentinel
	})
	checkErrorIs(t, err, sentinel)
	checkIntEqual(t, "calls", calls, 1)
}

func TestWithConflictRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withConflictRetry(ctx, func() error {
		return errors.New("Transaction conflict: forever")
	})
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}
