// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package observer runs the per-node control loop: scan, stage, and - when
// this node holds the processor role - settle and reduce.
//
// The loop is a suture.Service; it exits only on context cancellation and
// treats every store and scanner failure as transient, retrying at the
// next cycle. Each cycle stages into the bucket that is current when the
// scan completes, and the processor reduces that same bucket after the
// settle delay, matching the staging cadence of the rest of the fleet.
package observer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flockwatch/flockwatch/internal/bucket"
	"github.com/flockwatch/flockwatch/internal/config"
	"github.com/flockwatch/flockwatch/internal/logging"
	"github.com/flockwatch/flockwatch/internal/metrics"
	"github.com/flockwatch/flockwatch/internal/models"
	"github.com/flockwatch/flockwatch/internal/scanner"
)

// Store is the slice of the shared store the loop needs.
type Store interface {
	RegisterObserver(ctx context.Context, name, location string, now time.Time) error
	Heartbeat(ctx context.Context, name string, now time.Time) error
	StageReadings(ctx context.Context, observerName string, bucketStart time.Time, readings []models.Reading, now time.Time) error
}

// Reducer reduces one bucket. Satisfied by *reduce.Engine.
type Reducer interface {
	Reduce(ctx context.Context, bucketStart time.Time) error
}

// RoleCoordinator is the claim/renew protocol surface the loop drives.
// Satisfied by *coordinator.Coordinator.
type RoleCoordinator interface {
	Claim(ctx context.Context) error
	MaybeReclaim(ctx context.Context) error
	Renew(ctx context.Context) error
	Release(ctx context.Context)
	IsProcessor() bool
}

// Loop is one node's observer control loop.
type Loop struct {
	store   Store
	scanner scanner.Scanner
	reducer Reducer
	coord   RoleCoordinator

	node     config.NodeConfig
	interval config.IntervalConfig

	// pending holds bucket starts whose reduction failed and is retried on
	// later cycles. Bounded; the oldest entries are dropped first.
	pending []time.Time

	// now is injected for tests.
	now func() time.Time
}

// maxPendingBuckets bounds the reduction retry queue so a long store
// outage cannot grow it without limit.
const maxPendingBuckets = 32

// Option configures a Loop.
type Option func(*Loop)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New assembles the loop from its collaborators.
func New(store Store, sc scanner.Scanner, reducer Reducer, coord RoleCoordinator,
	node config.NodeConfig, interval config.IntervalConfig, opts ...Option) *Loop {
	l := &Loop{
		store:    store,
		scanner:  sc,
		reducer:  reducer,
		coord:    coord,
		node:     node,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Serve implements suture.Service. It registers the observer, attempts the
// initial role claim, then cycles until the context is cancelled. The
// processor role is released best-effort on the way out.
func (l *Loop) Serve(ctx context.Context) error {
	if err := l.register(ctx); err != nil {
		return err
	}

	if err := l.coord.Claim(ctx); err != nil {
		// Transient store failure during the initial claim: observe-only
		// for now, MaybeReclaim retries each cycle.
		metrics.StoreErrors.WithLabelValues("claim").Inc()
		logging.Warn().Err(err).Msg("Initial role claim failed; will retry next cycle")
	}

	logging.Info().
		Str("node", l.node.Name).
		Bool("seeks_processor_role", l.node.SeeksProcessorRole).
		Dur("interval_width", l.interval.Width).
		Msg("Observer loop started")

	defer func() {
		// Serve's ctx is already cancelled here; give release its own
		// short deadline so shutdown cannot hang on a wedged store.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.coord.Release(releaseCtx)
		logging.Info().Str("node", l.node.Name).Msg("Observer loop stopped")
	}()

	for {
		l.RunCycle(ctx)

		if err := sleepCtx(ctx, l.untilNextCycle()); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunCycle executes one scan/stage/(settle/reduce/renew) cycle. Errors are
// logged and counted, never returned: recoverable failures must not kill
// the loop, and the next cycle retries everything that matters.
func (l *Loop) RunCycle(ctx context.Context) {
	readings := l.scan(ctx)

	// Tag readings with the bucket that is current once the scan is done,
	// so a scan straddling a boundary stages into the fresh bucket.
	now := l.now()
	bucketStart := bucket.Start(now, l.interval.Width)

	if len(readings) > 0 {
		if err := l.store.StageReadings(ctx, l.node.Name, bucketStart, readings, now); err != nil {
			metrics.StoreErrors.WithLabelValues("stage").Inc()
			logging.Error().Err(err).Time("bucket_start", bucketStart).
				Msg("Failed to stage readings; will rescan next cycle")
		} else {
			metrics.ReadingsStaged.Add(float64(len(readings)))
			logging.Debug().Int("readings", len(readings)).Time("bucket_start", bucketStart).
				Msg("Staged readings")
		}
	}

	if err := l.store.Heartbeat(ctx, l.node.Name, l.now()); err != nil {
		metrics.StoreErrors.WithLabelValues("heartbeat").Inc()
		logging.Warn().Err(err).Msg("Failed to update liveness timestamp")
	}

	// A role-seeking node that is not the processor probes for a stale
	// lease every cycle.
	if err := l.coord.MaybeReclaim(ctx); err != nil {
		metrics.StoreErrors.WithLabelValues("claim").Inc()
		logging.Warn().Err(err).Msg("Role reclaim attempt failed")
	}

	if l.coord.IsProcessor() {
		l.settleAndReduce(ctx, bucketStart)
	}

	metrics.ObserverCycles.Inc()
}

// scan runs one bounded scan. A scanner failure is logged and treated as
// an empty result; it never aborts the cycle.
func (l *Loop) scan(ctx context.Context) []models.Reading {
	scanCtx, cancel := context.WithTimeout(ctx, l.interval.ScanDuration+5*time.Second)
	defer cancel()

	started := time.Now()
	readings, err := l.scanner.Scan(scanCtx, l.interval.ScanDuration)
	metrics.ObserveScan(time.Since(started), len(readings), err)

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logging.Error().Err(err).Msg("Scan failed; treating as empty result")
		return nil
	}
	return readings
}

// settleAndReduce waits out the settle delay so slower observers finish
// staging, reduces the bucket this cycle staged into plus any buckets
// whose reduction failed earlier, then renews the lease. A failed
// reduction rolls back whole; its bucket goes on the pending queue and is
// retried next cycle.
func (l *Loop) settleAndReduce(ctx context.Context, bucketStart time.Time) {
	logging.Debug().Dur("settle_delay", l.interval.SettleDelay).
		Msg("Processor settling before reduction")
	if err := sleepCtx(ctx, l.interval.SettleDelay); err != nil {
		return
	}

	buckets := make([]time.Time, 0, len(l.pending)+1)
	buckets = append(buckets, l.pending...)
	buckets = append(buckets, bucketStart)
	l.pending = nil

	for _, b := range buckets {
		if err := l.reducer.Reduce(ctx, b); err != nil {
			metrics.StoreErrors.WithLabelValues("reduce").Inc()
			logging.Error().Err(err).Time("bucket_start", b).
				Msg("Reduction failed; transaction rolled back, bucket retried next cycle")
			l.pending = append(l.pending, b)
		}
	}
	if n := len(l.pending); n > maxPendingBuckets {
		logging.Warn().Int("dropped", n-maxPendingBuckets).
			Msg("Reduction retry queue overflow; oldest buckets need an administrative re-run")
		l.pending = l.pending[n-maxPendingBuckets:]
	}

	if err := l.coord.Renew(ctx); err != nil {
		metrics.StoreErrors.WithLabelValues("renew").Inc()
		logging.Warn().Err(err).Msg("Lease renewal failed; will verify role next cycle")
	}
}

// register upserts this node's observer row, retrying transient store
// errors with backoff until it succeeds or the context is cancelled. A
// node that cannot register cannot coordinate, so there is nothing better
// to do than keep trying.
func (l *Loop) register(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // retry until cancelled

	return backoff.Retry(func() error {
		err := l.store.RegisterObserver(ctx, l.node.Name, l.node.Location, l.now())
		if err != nil {
			metrics.StoreErrors.WithLabelValues("register").Inc()
			logging.Warn().Err(err).Msg("Observer registration failed; retrying")
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

// untilNextCycle computes the sleep to the next cycle start: the next
// interval boundary minus the scan duration, so staging lands just after
// the boundary. The processor's settle delay is already reflected in the
// wall clock by the time this runs.
func (l *Loop) untilNextCycle() time.Duration {
	now := l.now()
	target := bucket.Next(now, l.interval.Width).Add(-l.interval.ScanDuration)
	if !target.After(now) {
		target = target.Add(l.interval.Width)
	}
	return target.Sub(now)
}

// sleepCtx is a cancellable sleep.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
