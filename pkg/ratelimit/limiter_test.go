package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitPassesWithHeadroom(t *testing.T) {
	c := NewCounter(Tier{Ceiling: 5, Decay: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := c.Wait(ctx, 1); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("calls within the ceiling must not block")
	}
}

func TestWaitBlocksUntilDecay(t *testing.T) {
	// Ceiling 2, decay 10/s: the third unit call must wait ~100ms.
	c := NewCounter(Tier{Ceiling: 2, Decay: 10})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = c.Wait(ctx, 2)
	start := time.Now()
	if err := c.Wait(ctx, 1); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected a decay wait of ~100ms, got %v", elapsed)
	}
}

func TestWaitContextDeadline(t *testing.T) {
	// Decay so slow the needed headroom never appears within the deadline.
	c := NewCounter(Tier{Ceiling: 1, Decay: 0.001})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = c.Wait(context.Background(), 1)
	if err := c.Wait(ctx, 1); err == nil {
		t.Error("expected the context deadline to end the wait")
	}
}

func TestZeroAndOversizedCost(t *testing.T) {
	c := NewCounter(IntermediateTier())
	if err := c.Wait(context.Background(), 0); err != nil {
		t.Errorf("zero cost must be a no-op, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// A cost above the ceiling clamps instead of deadlocking.
	if err := c.Wait(ctx, 100); err != nil {
		t.Errorf("oversized cost must clamp to the ceiling, got %v", err)
	}
}

func TestHeadroomRecoversOverTime(t *testing.T) {
	c := NewCounter(Tier{Ceiling: 10, Decay: 100})
	_ = c.Wait(context.Background(), 10)
	time.Sleep(60 * time.Millisecond)
	if h := c.Headroom(); h < 5 {
		t.Errorf("headroom = %v, want most of the ceiling back after decay", h)
	}
}

func TestZeroTierDefaultsToIntermediate(t *testing.T) {
	c := NewCounter(Tier{})
	want := IntermediateTier()
	if c.tier != want {
		t.Errorf("zero tier = %+v, want the intermediate default %+v", c.tier, want)
	}
}
