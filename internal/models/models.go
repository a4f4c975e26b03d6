// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package models defines the data structures shared between the store,
// the observer loop, the role coordinator and the reduction engine.
//
// The modeled relations:
//
//   - Observer: one scanning node, including its processor-role lease fields
//   - Target: a signal-emitting identity keyed by a stable identifier
//   - StagedReading: one raw observation awaiting reduction
//   - Sighting: the reduced at-most-one-per-(target, bucket) record
//
// A Reading is the transient scan result before it is staged. The
// processor_lease relation is internal to the claim protocol and has no
// model type.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Reading is a single raw scan result as produced by a Scanner. It carries
// no bucket or observer identity; the observer loop attaches those when it
// stages the reading.
type Reading struct {
	// Identifier is the stable identity of the emitting target,
	// e.g. a hardware address.
	Identifier string

	// Label is the advertised display name, if any. Last seen value wins.
	Label string

	// Strength is the signal strength in dBm. Higher is stronger
	// (BLE RSSI values are negative; -40 beats -80).
	Strength int
}

// Observer is one scanning node. Name is the identity key. The processor
// role triple (IsProcessor, ProcessorClaimedAt) is mutated only by the
// role coordinator under the claim/renew/release protocol.
type Observer struct {
	Name               string
	Location           string
	LastSeen           time.Time
	Active             bool
	IsProcessor        bool
	ProcessorClaimedAt *time.Time
}

// LeaseLive reports whether the observer holds a processor lease that has
// been renewed within the timeout as of now. A claim aged exactly the
// timeout is stale, matching the store's takeover check, and a missing
// claim timestamp is always stale.
func (o *Observer) LeaseLive(now time.Time, leaseTimeout time.Duration) bool {
	if !o.IsProcessor || o.ProcessorClaimedAt == nil {
		return false
	}
	return now.Sub(*o.ProcessorClaimedAt) < leaseTimeout
}

// Target is a discovered signal-emitting identity. Created on the first
// reduction that references an unseen identifier.
type Target struct {
	Identifier string
	Label      string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// StagedReading is one raw observation in the staging relation. Many rows
// may exist per (target, bucket), one per observer that saw the target.
// Processed flips false -> true exactly once, during reduction; it means
// "considered", not "kept".
type StagedReading struct {
	ID           uuid.UUID
	Identifier   string
	Label        string
	ObserverName string
	Strength     int
	BucketStart  time.Time
	ObservedAt   time.Time
	Processed    bool
}

// Sighting is the canonical reduced record: the single best reading for a
// (target, bucket) pair. Uniqueness on (TargetIdentifier, BucketStart) is
// enforced by the store; conflicts resolve max-strength-wins.
type Sighting struct {
	TargetIdentifier string
	ObserverName     string
	Strength         int
	BucketStart      time.Time
	BucketEnd        time.Time
	ReducedAt        time.Time
}
