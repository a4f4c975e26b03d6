// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package reduce drives the per-bucket best-reading reduction.
//
// For every target with unprocessed staged readings in a bucket, the
// engine keeps the reading with the maximum signal strength across all
// observers and upserts it into the canonical sightings series; every
// staged row in the bucket is then marked processed, winners and losers
// alike. The selection and the mark-processed sweep run in one store
// transaction, so the operation is idempotent and safe to invoke
// concurrently for the same bucket.
//
// Tie-break rule: equal strengths resolve to the lexicographically lowest
// observer name, then the earliest observation timestamp.
package reduce

import (
	"context"
	"time"

	"github.com/flockwatch/flockwatch/internal/bucket"
	"github.com/flockwatch/flockwatch/internal/database"
	"github.com/flockwatch/flockwatch/internal/logging"
	"github.com/flockwatch/flockwatch/internal/metrics"
)

// Store is the slice of the shared store the engine needs.
type Store interface {
	ReduceBucket(ctx context.Context, bucketStart, bucketEnd, now time.Time) (database.ReduceResult, error)
}

// Engine reduces buckets against a store.
type Engine struct {
	store Store
	width time.Duration
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used for reduced_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine for the given bucket width.
func New(store Store, width time.Duration, opts ...Option) *Engine {
	e := &Engine{store: store, width: width, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reduce reduces the bucket starting at bucketStart. On failure the store
// transaction has rolled back in full and the caller retries on its next
// cycle; nothing is partially applied.
func (e *Engine) Reduce(ctx context.Context, bucketStart time.Time) error {
	started := time.Now()
	result, err := e.store.ReduceBucket(ctx, bucketStart, bucket.End(bucketStart, e.width), e.now())
	metrics.ReductionDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.ReductionsTotal.WithLabelValues("error").Inc()
		return err
	}

	if result.Processed == 0 {
		metrics.ReductionsTotal.WithLabelValues("empty").Inc()
		logging.Debug().Time("bucket_start", bucketStart).Msg("Nothing to reduce")
		return nil
	}

	metrics.ReductionsTotal.WithLabelValues("ok").Inc()
	metrics.SightingsUpserted.Add(float64(result.Targets))
	metrics.ReadingsProcessed.Add(float64(result.Processed))

	logging.Info().
		Time("bucket_start", bucketStart).
		Int("targets", result.Targets).
		Int64("readings_processed", result.Processed).
		Msg("Reduced bucket to best readings")
	return nil
}
