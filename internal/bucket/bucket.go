// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package bucket maps wall-clock time onto fixed-width interval buckets.
//
// All nodes in the fleet must agree on bucket boundaries while sharing only
// loosely synchronized clocks. Buckets are therefore aligned to the Unix
// epoch, so agreement depends only on NTP-level clock synchronization
// across the fleet - an operating assumption, not something this package
// can enforce.
package bucket

import "time"

// Start returns the canonical start of the width-sized bucket containing t:
// t floored to the nearest lower multiple of width since the Unix epoch.
// The result is in t's location.
func Start(t time.Time, width time.Duration) time.Time {
	return t.Truncate(width)
}

// End returns the exclusive end of the bucket beginning at start.
func End(start time.Time, width time.Duration) time.Time {
	return start.Add(width)
}

// Next returns the start of the bucket after the one containing t.
func Next(t time.Time, width time.Duration) time.Time {
	return Start(t, width).Add(width)
}

// Remaining returns how long until the bucket containing t closes.
func Remaining(t time.Time, width time.Duration) time.Duration {
	return Next(t, width).Sub(t)
}
