// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package database

import (
	"context"
	"testing"
	"time"
)

func TestRegisterObserver(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	checkNoError(t, db.RegisterObserver(ctx, "node-a", "hallway", testBucket))

	obs, err := db.GetObserver(ctx, "node-a")
	checkNoError(t, err)
	if obs == nil {
		t.Fatal("observer not found after registration")
	}
	checkStringEqual(t, "name", obs.Name, "node-a")
	checkStringEqual(t, "location", obs.Location, "hallway")
	if !obs.Active {
		t.Error("observer should be active after registration")
	}
	if obs.IsProcessor {
		t.Error("registration must not grant the processor role")
	}
}

func TestRegisterObserverIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	checkNoError(t, db.RegisterObserver(ctx, "node-a", "hallway", testBucket))

	// Re-registration updates location and last_seen but must not touch
	// the role fields a claim set in between.
	checkNoError(t, db.ClaimProcessorRole(ctx, "node-a", testBucket, testBucket.Add(-10*time.Minute)))

	later := testBucket.Add(time.Minute)
	checkNoError(t, db.RegisterObserver(ctx, "node-a", "kitchen", later))

	obs, err := db.GetObserver(ctx, "node-a")
	checkNoError(t, err)
	checkStringEqual(t, "location", obs.Location, "kitchen")
	if !obs.LastSeen.Equal(later) {
		t.Errorf("last_seen: expected %s, got %s", later, obs.LastSeen)
	}
	if !obs.IsProcessor {
		t.Error("re-registration must not clear the processor role")
	}
	if obs.ProcessorClaimedAt == nil || !obs.ProcessorClaimedAt.Equal(testBucket) {
		t.Errorf("processor_claimed_at changed by re-registration: %v", obs.ProcessorClaimedAt)
	}
}

func TestHeartbeat(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	registerObservers(t, db, "node-a")

	later := testBucket.Add(5 * time.Minute)
	checkNoError(t, db.Heartbeat(ctx, "node-a", later))

	obs, err := db.GetObserver(ctx, "node-a")
	checkNoError(t, err)
	if !obs.LastSeen.Equal(later) {
		t.Errorf("last_seen: expected %s, got %s", later, obs.LastSeen)
	}
}

func TestHeartbeatUnregistered(t *testing.T) {
	db := setupTestDB(t)

	err := db.Heartbeat(context.Background(), "ghost", testBucket)
	checkErrorIs(t, err, ErrNotRegistered)
}

func TestCurrentProcessorEmpty(t *testing.T) {
	db := setupTestDB(t)
	registerObservers(t, db, "node-a", "node-b")

	proc, err := db.CurrentProcessor(context.Background())
	checkNoError(t, err)
	if proc != nil {
		t.Errorf("expected no processor, got %+v", proc)
	}
}
