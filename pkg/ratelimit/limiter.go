// Package ratelimit implements the decay-counter throttle Kraken applies
// to private REST calls: every call adds a fixed cost to an account-wide
// counter, the counter sheds points at a tier-dependent rate, and a call
// that would push the counter past its ceiling is rejected by the venue
// with EAPI:Rate limit exceeded. Waiting for decay headroom locally is
// cheaper than eating that rejection plus a transport retry.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Tier is one of Kraken's published verification tiers. The ceiling is
// the counter maximum; decay is points shed per second once calls stop.
type Tier struct {
	Ceiling float64
	Decay   float64
}

// Published tiers. Intermediate is the default for funded trading
// accounts and what NewCounter assumes when handed a zero Tier.
func StarterTier() Tier      { return Tier{Ceiling: 15, Decay: 0.33} }
func IntermediateTier() Tier { return Tier{Ceiling: 20, Decay: 0.5} }
func ProTier() Tier          { return Tier{Ceiling: 20, Decay: 1.0} }

// Counter tracks one decay counter. All methods are safe for concurrent
// use; the executor's leg loop and the guard's balance refresh share one
// instance per endpoint class.
type Counter struct {
	mu      sync.Mutex
	tier    Tier
	level   float64
	settled time.Time
}

func NewCounter(tier Tier) *Counter {
	if tier.Ceiling <= 0 || tier.Decay <= 0 {
		tier = IntermediateTier()
	}
	return &Counter{tier: tier, settled: time.Now()}
}

// decayLocked settles the counter down for the time elapsed since the
// last settlement. Must hold c.mu.
func (c *Counter) decayLocked(now time.Time) {
	c.level -= now.Sub(c.settled).Seconds() * c.tier.Decay
	if c.level < 0 {
		c.level = 0
	}
	c.settled = now
}

// Wait blocks until the counter has headroom for cost, books the cost,
// and returns. A cost above the ceiling is clamped to it so a
// misconfigured call can stall, not deadlock. Returns ctx's error if the
// deadline expires first — the caller classifies that as Transient I/O,
// not as a venue rejection.
func (c *Counter) Wait(ctx context.Context, cost float64) error {
	if cost <= 0 {
		return nil
	}
	if cost > c.tier.Ceiling {
		cost = c.tier.Ceiling
	}

	for {
		c.mu.Lock()
		now := time.Now()
		c.decayLocked(now)
		if c.level+cost <= c.tier.Ceiling {
			c.level += cost
			c.mu.Unlock()
			return nil
		}
		// Time until enough points have decayed for this cost to fit.
		wait := time.Duration((c.level + cost - c.tier.Ceiling) / c.tier.Decay * float64(time.Second))
		c.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Headroom reports how many points remain before the ceiling, for
// health snapshots and debugging.
func (c *Counter) Headroom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decayLocked(time.Now())
	return c.tier.Ceiling - c.level
}
