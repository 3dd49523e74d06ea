package breaker

import (
	"strings"
	"testing"
	"time"
)

func TestTryMarkExecutingAtMostOne(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 30, MaxTotalLossUSD: 30}, nil)

	if err := b.TryMarkExecuting("trade-1"); err != nil {
		t.Fatalf("first claim should succeed: %v", err)
	}
	if err := b.TryMarkExecuting("trade-2"); err != ErrAlreadyExecuting {
		t.Errorf("second claim while trade-1 executes should fail with ErrAlreadyExecuting, got %v", err)
	}

	b.MarkExecutionComplete("trade-1", 1.0, 100)

	if err := b.TryMarkExecuting("trade-3"); err != nil {
		t.Errorf("claim after release should succeed, got %v", err)
	}
}

func TestClaimReleasePairIsNoOpOnState(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 30, MaxTotalLossUSD: 30}, nil)
	before := b.Snapshot()

	_ = b.TryMarkExecuting("t1")
	b.ReleaseExecution("t1")

	after := b.Snapshot()
	if after != before {
		t.Errorf("claim/release pair must be a no-op on state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestDailyLossTripsBreaker(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 30, MaxTotalLossUSD: 200}, nil)

	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", -20, 100)
	if b.Snapshot().IsBroken {
		t.Fatal("breaker must not trip before the limit is reached")
	}

	_ = b.TryMarkExecuting("t2")
	b.MarkExecutionComplete("t2", -15, 100)

	s := b.Snapshot()
	if !s.IsBroken {
		t.Fatal("breaker should trip once daily_loss >= max_daily_loss")
	}
	if s.DailyLoss != 35 {
		t.Errorf("DailyLoss = %v, want 35", s.DailyLoss)
	}
	if !strings.Contains(strings.ToLower(s.BrokenReason), "daily") {
		t.Errorf("break reason %q should mention the daily limit", s.BrokenReason)
	}
	if !strings.Contains(s.BrokenReason, "$") {
		t.Errorf("break reason %q should carry the dollar amount", s.BrokenReason)
	}
}

func TestDailyBreakAutoResetsAtRollover(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 10, MaxTotalLossUSD: 200}, nil)
	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", -20, 100)
	if !b.Snapshot().IsBroken {
		t.Fatal("expected breaker broken on daily limit")
	}

	// Pretend the last reset happened yesterday; the next observation
	// crosses the UTC boundary and must clear a daily-reasoned break.
	b.mu.Lock()
	b.state.LastDailyReset = b.state.LastDailyReset.Add(-24 * time.Hour)
	b.mu.Unlock()

	s := b.Snapshot()
	if s.IsBroken {
		t.Error("daily break should auto-reset after the UTC day boundary")
	}
	if s.DailyLoss != 0 || s.DailyTrades != 0 {
		t.Errorf("daily aggregates should zero at rollover, got loss=%v trades=%d", s.DailyLoss, s.DailyTrades)
	}
	if s.TotalLoss != 20 {
		t.Errorf("total aggregates must survive rollover, got %v", s.TotalLoss)
	}
}

func TestTotalBreakSurvivesRollover(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 1000, MaxTotalLossUSD: 10}, nil)
	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", -20, 100)
	if !b.Snapshot().IsBroken {
		t.Fatal("expected breaker broken on total limit")
	}

	b.mu.Lock()
	b.state.LastDailyReset = b.state.LastDailyReset.Add(-24 * time.Hour)
	b.mu.Unlock()

	if !b.Snapshot().IsBroken {
		t.Error("a total-loss break must not auto-reset at rollover")
	}
}

func TestManualTrip(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 1000, MaxTotalLossUSD: 1000}, nil)
	b.Trip("executed volume inconsistent with fee currency")

	s := b.Snapshot()
	if !s.IsBroken {
		t.Fatal("manual Trip should open the breaker")
	}
	if err := b.TryMarkExecuting("t1"); err == nil {
		t.Error("claims must fail while manually tripped")
	}
}

func TestTripOnceBrokenClaimFails(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 10, MaxTotalLossUSD: 200}, nil)
	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", -20, 100)

	if err := b.TryMarkExecuting("t2"); err == nil {
		t.Error("expected TryMarkExecuting to fail once the breaker is broken")
	}
}

func TestOnTripCallback(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 10, MaxTotalLossUSD: 200}, nil)
	var gotReason string
	b.OnTrip = func(reason string) { gotReason = reason }

	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", -20, 100)

	if gotReason == "" {
		t.Error("expected OnTrip to fire with a non-empty reason")
	}
}

func TestRecordAndResolvePartial(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 30, MaxTotalLossUSD: 30}, nil)

	_ = b.TryMarkExecuting("t1")
	b.RecordPartial(-0.26)

	s := b.Snapshot()
	if s.PartialTrades != 1 {
		t.Fatalf("PartialTrades = %d, want 1", s.PartialTrades)
	}
	if s.PartialEstimatedLoss != 0.26 {
		t.Errorf("PartialEstimatedLoss = %v, want 0.26", s.PartialEstimatedLoss)
	}
	// Partial estimates must not count toward the loss limit (spec §4.6).
	if s.IsBroken {
		t.Error("partial estimated loss alone must not trip the breaker")
	}

	beforeProfit := s.TotalProfit
	b.ResolvePartial(-0.26, 1.50)

	after := b.Snapshot()
	if after.PartialTrades != 0 {
		t.Errorf("PartialTrades after resolve = %d, want 0", after.PartialTrades)
	}
	if after.PartialEstimatedLoss != 0 {
		t.Errorf("PartialEstimatedLoss after resolve = %v, want 0", after.PartialEstimatedLoss)
	}
	if after.TotalProfit-beforeProfit != 1.50 {
		t.Errorf("TotalProfit delta = %v, want 1.50", after.TotalProfit-beforeProfit)
	}
	// The resolved trade books exactly like a completed one.
	if after.TotalTrades != 1 || after.DailyTrades != 1 {
		t.Errorf("trade counts after resolve = %d/%d, want 1/1", after.DailyTrades, after.TotalTrades)
	}
	if after.TotalWins != 1 || after.DailyWins != 1 {
		t.Errorf("win counts after resolve = %d/%d, want 1/1", after.DailyWins, after.TotalWins)
	}
}

func TestPartialEstimateNeverTripsBreaker(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 10, MaxTotalLossUSD: 10}, nil)
	_ = b.TryMarkExecuting("t1")
	b.RecordPartial(-500) // estimate far beyond any limit

	if b.Snapshot().IsBroken {
		t.Error("an estimated loss must never trip the breaker; only realized P/L counts")
	}

	// Resolving at an actual loss past the limit does trip it.
	b.ResolvePartial(-500, -15)
	if !b.Snapshot().IsBroken {
		t.Error("the realized loss booked at resolution should trip the breaker")
	}
}

func TestResetClearsBrokenState(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 10, MaxTotalLossUSD: 200}, nil)
	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", -20, 100)

	if !b.Snapshot().IsBroken {
		t.Fatal("expected breaker to be broken")
	}
	b.Reset()
	if b.Snapshot().IsBroken {
		t.Error("expected Reset to clear broken state")
	}
}

func TestTotalLossAloneTrips(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 1000, MaxTotalLossUSD: 50}, nil)
	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", -50, 100)

	s := b.Snapshot()
	if !s.IsBroken {
		t.Error("expected total_loss >= max_total_loss to trip the breaker")
	}
}

func TestWinsTrackedOnProfit(t *testing.T) {
	b := New(Limits{MaxDailyLossUSD: 1000, MaxTotalLossUSD: 1000}, nil)
	_ = b.TryMarkExecuting("t1")
	b.MarkExecutionComplete("t1", 5, 100)

	s := b.Snapshot()
	if s.DailyWins != 1 || s.TotalWins != 1 {
		t.Errorf("wins = %d/%d, want 1/1", s.DailyWins, s.TotalWins)
	}
	if s.NotionalTurnover != 100 {
		t.Errorf("NotionalTurnover = %v, want 100", s.NotionalTurnover)
	}
}
