// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/flockwatch/flockwatch/internal/models"
)

func TestSimulatedScan(t *testing.T) {
	s := NewSimulated(8)

	readings, err := s.Scan(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readings) == 0 {
		t.Fatal("simulated scan returned no readings")
	}
	if len(readings) > 8 {
		t.Fatalf("more readings (%d) than targets (8)", len(readings))
	}

	seen := make(map[string]bool)
	for _, r := range readings {
		if r.Identifier == "" {
			t.Error("reading with empty identifier")
		}
		if seen[r.Identifier] {
			t.Errorf("duplicate identifier within one scan: %s", r.Identifier)
		}
		seen[r.Identifier] = true
		if r.Strength < -90 || r.Strength > -30 {
			t.Errorf("strength %d outside -90..-30 dBm", r.Strength)
		}
	}
}

func TestSimulatedScanHonorsCancellation(t *testing.T) {
	s := NewSimulated(8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx, time.Minute)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestFuncAdapter(t *testing.T) {
	want := []models.Reading{{Identifier: "AA:00:00:00:00:01", Strength: -50}}
	f := Func(func(context.Context, time.Duration) ([]models.Reading, error) {
		return want, nil
	})

	got, err := f.Scan(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Identifier != want[0].Identifier {
		t.Errorf("unexpected readings: %+v", got)
	}
}
