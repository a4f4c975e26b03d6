// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

package models

import (
	"testing"
	"time"
)

func TestLeaseLive(t *testing.T) {
	now := time.Date(2026, 5, 12, 8, 0, 0, 0, time.UTC)
	timeout := 10 * time.Minute

	claimed := func(age time.Duration) *time.Time {
		t := now.Add(-age)
		return &t
	}

	tests := []struct {
		name string
		obs  Observer
		want bool
	}{
		{
			name: "fresh claim is live",
			obs:  Observer{IsProcessor: true, ProcessorClaimedAt: claimed(time.Minute)},
			want: true,
		},
		{
			name: "claim at exactly the timeout is stale",
			obs:  Observer{IsProcessor: true, ProcessorClaimedAt: claimed(timeout)},
			want: false,
		},
		{
			name: "claim just inside the timeout is live",
			obs:  Observer{IsProcessor: true, ProcessorClaimedAt: claimed(timeout - time.Second)},
			want: true,
		},
		{
			name: "claim past the timeout is stale",
			obs:  Observer{IsProcessor: true, ProcessorClaimedAt: claimed(timeout + time.Second)},
			want: false,
		},
		{
			name: "flag without timestamp is stale",
			obs:  Observer{IsProcessor: true},
			want: false,
		},
		{
			name: "no flag means no lease",
			obs:  Observer{IsProcessor: false, ProcessorClaimedAt: claimed(time.Minute)},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.obs.LeaseLive(now, timeout); got != tt.want {
				t.Errorf("LeaseLive = %v, want %v", got, tt.want)
			}
		})
	}
}
