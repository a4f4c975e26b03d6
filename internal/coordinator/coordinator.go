// Flockwatch - Distributed Proximity Monitoring and Best-Signal Reduction
// Copyright 2026 Flockwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flockwatch/flockwatch

// Package coordinator implements the single-active-processor protocol: at
// most one observer in the fleet holds a live processor lease at any
// instant, and only that node runs bucket reductions.
//
// The lease lives in the shared store as (is_processor,
// processor_claimed_at) on the observer row. A claim older than the lease
// timeout is stale and up for grabs; renewal happens once per operating
// cycle; release on shutdown is best-effort because expiry is the
// authoritative failure detector.
//
// A node that finds the role live elsewhere does not give up for good: it
// degrades to observer-only duties and re-attempts the claim on later
// cycles, taking over automatically once the incumbent's lease goes
// stale.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/flockwatch/flockwatch/internal/database"
	"github.com/flockwatch/flockwatch/internal/logging"
	"github.com/flockwatch/flockwatch/internal/metrics"
	"github.com/flockwatch/flockwatch/internal/models"
)

// State is the coordinator's role state for this node.
type State int

const (
	// Unclaimed: this node has not attempted a claim, or lost its lease.
	Unclaimed State = iota
	// Processor: this node holds the lease and runs reductions.
	Processor
	// ObserverOnly: a live lease is held elsewhere; this node performs
	// plain observation duties and re-attempts the claim periodically.
	ObserverOnly
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Processor:
		return "processor"
	case ObserverOnly:
		return "observer-only"
	default:
		return "unclaimed"
	}
}

// Store is the slice of the shared store the coordinator needs.
type Store interface {
	ClaimProcessorRole(ctx context.Context, name string, now, staleBefore time.Time) error
	RenewProcessorLease(ctx context.Context, name string, now time.Time) error
	ReleaseProcessorRole(ctx context.Context, name string) error
	CurrentProcessor(ctx context.Context) (*models.Observer, error)
}

// Coordinator drives the claim/renew/release protocol for one node.
// It is used from a single goroutine (the observer loop); it is not
// internally synchronized.
type Coordinator struct {
	store        Store
	nodeName     string
	seeksRole    bool
	leaseTimeout time.Duration
	state        State

	// now is injected for simulated-clock tests.
	now func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the wall clock. Tests drive lease expiry with this.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator for nodeName. seeksRole gates whether this
// node ever attempts a claim; every node may still observe staleness.
func New(store Store, nodeName string, seeksRole bool, leaseTimeout time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		nodeName:     nodeName,
		seeksRole:    seeksRole,
		leaseTimeout: leaseTimeout,
		state:        Unclaimed,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current role state.
func (c *Coordinator) State() State {
	return c.state
}

// IsProcessor reports whether this node currently holds the role.
func (c *Coordinator) IsProcessor() bool {
	return c.state == Processor
}

// Claim attempts to take the processor role. A no-op for nodes not
// configured to seek it. A live holder elsewhere is not an error: the
// node drops to ObserverOnly and retries on a later cycle.
func (c *Coordinator) Claim(ctx context.Context) error {
	if !c.seeksRole {
		return nil
	}

	now := c.now()
	staleBefore := now.Add(-c.leaseTimeout)

	err := c.store.ClaimProcessorRole(ctx, c.nodeName, now, staleBefore)
	switch {
	case err == nil:
		c.setState(Processor)
		metrics.ClaimAttempts.WithLabelValues("claimed").Inc()
		logging.Info().Str("node", c.nodeName).Msg("Claimed processor role")
		return nil
	case errors.Is(err, database.ErrRoleHeld):
		c.setState(ObserverOnly)
		metrics.ClaimAttempts.WithLabelValues("held_elsewhere").Inc()
		logging.Info().Str("node", c.nodeName).Err(err).
			Msg("Processor role held elsewhere; continuing in observer-only mode")
		return nil
	default:
		metrics.ClaimAttempts.WithLabelValues("error").Inc()
		return err
	}
}

// Renew extends the lease. Called once per cycle while Processor. Losing
// the lease (another node took over after staleness) is not an error at
// this level: the node drops back to Unclaimed and the loop re-claims on
// its next cycle.
func (c *Coordinator) Renew(ctx context.Context) error {
	if c.state != Processor {
		return nil
	}

	err := c.store.RenewProcessorLease(ctx, c.nodeName, c.now())
	switch {
	case err == nil:
		metrics.LeaseRenewals.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, database.ErrLeaseLost):
		c.setState(Unclaimed)
		metrics.LeaseRenewals.WithLabelValues("lost").Inc()
		logging.Warn().Str("node", c.nodeName).
			Msg("Processor lease lost; reverting to unclaimed")
		return nil
	default:
		metrics.LeaseRenewals.WithLabelValues("error").Inc()
		return err
	}
}

// MaybeReclaim re-attempts the claim for a role-seeking node that is not
// currently the processor. Called once per cycle so a stale incumbent is
// taken over automatically.
func (c *Coordinator) MaybeReclaim(ctx context.Context) error {
	if !c.seeksRole || c.state == Processor {
		return nil
	}
	return c.Claim(ctx)
}

// Release clears this node's claim on graceful shutdown. Best-effort:
// failure is logged and expiry takes over as the failure detector.
func (c *Coordinator) Release(ctx context.Context) {
	if c.state != Processor {
		return
	}
	if err := c.store.ReleaseProcessorRole(ctx, c.nodeName); err != nil {
		logging.Warn().Str("node", c.nodeName).Err(err).
			Msg("Failed to release processor role; lease will expire on its own")
	} else {
		logging.Info().Str("node", c.nodeName).Msg("Released processor role")
	}
	c.setState(Unclaimed)
}

func (c *Coordinator) setState(s State) {
	c.state = s
	if s == Processor {
		metrics.ProcessorRole.Set(1)
	} else {
		metrics.ProcessorRole.Set(0)
	}
}
