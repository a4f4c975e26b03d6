// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package metrics provides Prometheus instrumentation for the observer
// loop, the role coordinator, the reduction engine and the store. Metrics
// are exposed by the health listener at /metrics; external monitoring may
// also poll the observers relation directly for liveness.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan metrics
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flockwatch_scan_duration_seconds",
			Help:    "Duration of proximity scans in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 15, 30, 60},
		},
	)

	ScanReadings = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flockwatch_scan_readings",
			Help:    "Number of readings returned per scan",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flockwatch_scan_errors_total",
			Help: "Total number of failed scans (treated as empty results)",
		},
	)

	// Staging metrics
	ReadingsStaged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flockwatch_readings_staged_total",
			Help: "Total number of raw readings written to the staging relation",
		},
	)

	// Reduction metrics
	ReductionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwatch_reductions_total",
			Help: "Total number of bucket reductions attempted",
		},
		[]string{"result"}, // "ok", "empty", "error"
	)

	ReductionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flockwatch_reduction_duration_seconds",
			Help:    "Duration of bucket reductions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SightingsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flockwatch_sightings_upserted_total",
			Help: "Total number of winning sightings upserted by reductions",
		},
	)

	ReadingsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flockwatch_readings_processed_total",
			Help: "Total number of staged readings marked processed",
		},
	)

	// Role coordination metrics
	ClaimAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwatch_role_claim_attempts_total",
			Help: "Total number of processor-role claim attempts",
		},
		[]string{"result"}, // "claimed", "held_elsewhere", "error"
	)

	LeaseRenewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwatch_lease_renewals_total",
			Help: "Total number of processor lease renewals",
		},
		[]string{"result"}, // "ok", "lost", "error"
	)

	ProcessorRole = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flockwatch_processor_role",
			Help: "1 when this node currently holds the processor role, else 0",
		},
	)

	// Store metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwatch_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"operation"},
	)

	// Loop metrics
	ObserverCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flockwatch_observer_cycles_total",
			Help: "Total number of completed observer loop cycles",
		},
	)
)

// ObserveScan records one scan outcome.
func ObserveScan(d time.Duration, readings int, err error) {
	ScanDuration.Observe(d.Seconds())
	if err != nil {
		ScanErrors.Inc()
		return
	}
	ScanReadings.Observe(float64(readings))
}
