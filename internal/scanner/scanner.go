// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package scanner defines the proximity scanning collaborator.
//
// The physical sensing mechanism is external to the coordination core:
// integrators supply a Scanner backed by whatever radio hardware the node
// has. The built-in Simulated scanner generates plausible readings for
// hardware-less hosts, which keeps a fleet testable end to end.
package scanner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/flockwatch/flockwatch/internal/models"
)

// Scanner yields one bounded scan's worth of readings. Implementations
// must return within roughly the given duration, respect context
// cancellation, and may return an empty slice. No ordering is guaranteed
// and the same target may not appear in consecutive scans.
type Scanner interface {
	Scan(ctx context.Context, duration time.Duration) ([]models.Reading, error)
}

// Func adapts a plain function to the Scanner interface.
type Func func(ctx context.Context, duration time.Duration) ([]models.Reading, error)

// Scan implements Scanner.
func (f Func) Scan(ctx context.Context, duration time.Duration) ([]models.Reading, error) {
	return f(ctx, duration)
}

// Simulated is a hardware-free Scanner that emits readings for a small
// fixed fleet of fake targets with randomized signal strengths. Strengths
// fall in the usual BLE RSSI range (-90..-30 dBm).
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand

	// Targets is the pool of fake identities to draw from.
	Targets int
}

// NewSimulated creates a simulated scanner with n fake targets.
func NewSimulated(n int) *Simulated {
	if n <= 0 {
		n = 8
	}
	return &Simulated{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		Targets: n,
	}
}

// Scan returns a random subset of the fake fleet after waiting out a small
// fraction of the scan window, so loop timing resembles a real radio scan.
func (s *Simulated) Scan(ctx context.Context, duration time.Duration) ([]models.Reading, error) {
	// Simulate a short acquisition delay, bounded by the scan window.
	delay := duration / 10
	if delay > time.Second {
		delay = time.Second
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 1 + s.rng.Intn(s.Targets)
	readings := make([]models.Reading, 0, count)
	picked := make(map[int]bool, count)
	for len(readings) < count {
		i := s.rng.Intn(s.Targets)
		if picked[i] {
			continue
		}
		picked[i] = true
		readings = append(readings, models.Reading{
			Identifier: fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i),
			Label:      fmt.Sprintf("sim-target-%d", i),
			Strength:   -90 + s.rng.Intn(61), // -90..-30 dBm
		})
	}
	return readings, nil
}
