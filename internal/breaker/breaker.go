// Package breaker implements the CircuitBreaker singleton (spec §4.6): a
// normal/broken state machine guarding daily and total loss limits, with
// an at-most-one execution lock and explicit partial-trade accounting.
//
// Every mutation happens inside a single goroutine-owned transaction
// (guarded by one mutex) rather than separate read-then-write steps,
// generalizing the teacher's RiskManager (internal/bot/risk.go) and its
// state_machine.go transition-table idiom to the breaker's own
// normal/broken states. Daily UTC rollover reuses the teacher's
// pkg/utils/time.go boundary helpers.
package breaker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/models"
	"arbitrage/pkg/utils"
)

// ErrAlreadyExecuting is returned by TryMarkExecuting when another trade
// already holds the execution lock (spec §8 scenario 6: at-most-one
// execution).
var ErrAlreadyExecuting = errors.New("breaker: execution already in flight")

// Limits configures the loss thresholds that trip the breaker (spec §6).
type Limits struct {
	MaxDailyLossUSD float64
	MaxTotalLossUSD float64
}

// Breaker is CircuitBreaker.
type Breaker struct {
	mu     sync.Mutex
	state  models.BreakerState
	limits Limits
	logger *zap.Logger

	// OnTrip, when set, is invoked every time the breaker transitions
	// from normal to broken. It runs while the breaker's internal lock
	// is held, so it must not call back into the breaker and should not
	// block; the engine wires this to a fire-and-forget notification
	// dispatch rather than a synchronous DB write.
	OnTrip func(reason string)
}

func New(limits Limits, logger *zap.Logger) *Breaker {
	return &Breaker{
		state:  models.BreakerState{LastDailyReset: utils.GetDayStart()},
		limits: limits,
		logger: logger,
	}
}

// Snapshot returns a consistent copy for guard/audit reads without
// holding the breaker's lock past the call.
func (b *Breaker) Snapshot() models.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(time.Now())
	return b.state.Clone()
}

// TryMarkExecuting claims the exclusivity lock for tradeID, failing if
// one is already held or the breaker is broken.
func (b *Breaker) TryMarkExecuting(tradeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(time.Now())

	if b.state.IsBroken {
		return errors.New("breaker: broken, " + b.state.BrokenReason)
	}
	if b.state.IsExecuting {
		return ErrAlreadyExecuting
	}
	b.state.IsExecuting = true
	b.state.ExecutingID = tradeID
	return nil
}

// MarkExecutionComplete releases the exclusivity lock and records a
// completed trade's realized P/L, tripping the breaker if either loss
// limit is breached (spec §4.6).
func (b *Breaker) MarkExecutionComplete(tradeID string, profitLoss float64, notional float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(time.Now())

	b.state.IsExecuting = false
	b.state.ExecutingID = ""
	b.state.NotionalTurnover += notional
	b.state.DailyTrades++
	b.state.TotalTrades++

	if profitLoss >= 0 {
		b.state.DailyProfit += profitLoss
		b.state.TotalProfit += profitLoss
		b.state.DailyWins++
		b.state.TotalWins++
	} else {
		b.state.DailyLoss += -profitLoss
		b.state.TotalLoss += -profitLoss
	}

	b.tripIfBreachedLocked()
}

// ReleaseExecution clears the execution slot without booking any
// aggregates — the path for a FAILED trade, where no leg filled and
// there is no realized P/L or win/loss to count.
func (b *Breaker) ReleaseExecution(tradeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.IsExecuting = false
	b.state.ExecutingID = ""
}

// RecordPartial books a PARTIAL trade's estimated P/L against the
// breaker's separate partial aggregates. Estimates never feed the loss
// limits — only realized P/L does (spec §4.6), so an unrealized held
// position cannot trip the breaker by itself.
func (b *Breaker) RecordPartial(estimatedPL float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(time.Now())

	b.state.IsExecuting = false
	b.state.ExecutingID = ""
	b.state.PartialTrades++
	if estimatedPL >= 0 {
		b.state.PartialEstimatedProfit += estimatedPL
	} else {
		b.state.PartialEstimatedLoss += -estimatedPL
	}
}

// ResolvePartial reconciles a previously-partial trade once its held
// position is liquidated: the estimate is backed out of the partial
// aggregates and the realized figure is booked exactly as if a
// completed trade had occurred (spec §4.6/§4.5 resolve_partial) — the
// trade and win counters move from the partial column to the completed
// one.
func (b *Breaker) ResolvePartial(estimatedPL, realizedPL float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(time.Now())

	if estimatedPL >= 0 {
		b.state.PartialEstimatedProfit -= estimatedPL
	} else {
		b.state.PartialEstimatedLoss -= -estimatedPL
	}
	b.state.PartialTrades--
	b.state.DailyTrades++
	b.state.TotalTrades++
	if realizedPL >= 0 {
		b.state.DailyProfit += realizedPL
		b.state.TotalProfit += realizedPL
		b.state.DailyWins++
		b.state.TotalWins++
	} else {
		b.state.DailyLoss += -realizedPL
		b.state.TotalLoss += -realizedPL
	}

	b.tripIfBreachedLocked()
}

// Trip forces the breaker open with the given reason — the manual
// trigger path of spec §4.6's state machine, also used when an
// invariant violation is detected mid-trade (spec §7).
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked(reason)
}

// tripIfBreachedLocked checks realized losses only; partial estimates
// are excluded so unrealized positions cannot cause a spurious break
// (spec §4.6 Partial accounting).
func (b *Breaker) tripIfBreachedLocked() {
	if b.state.IsBroken {
		return
	}
	if b.limits.MaxDailyLossUSD > 0 && b.state.DailyLoss >= b.limits.MaxDailyLossUSD {
		b.tripLocked(fmt.Sprintf("Daily loss limit reached ($%.2f)", b.state.DailyLoss))
		return
	}
	if b.limits.MaxTotalLossUSD > 0 && b.state.TotalLoss >= b.limits.MaxTotalLossUSD {
		b.tripLocked(fmt.Sprintf("Total loss limit reached ($%.2f)", b.state.TotalLoss))
	}
}

func (b *Breaker) tripLocked(reason string) {
	if b.state.IsBroken {
		return
	}
	b.state.IsBroken = true
	now := time.Now()
	b.state.BrokenAt = &now
	b.state.BrokenReason = reason
	if b.logger != nil {
		b.logger.Warn("circuit breaker tripped", zap.String("reason", reason))
	}
	if b.OnTrip != nil {
		b.OnTrip(reason)
	}
}

// Reset clears the broken state, an explicit operator action (not spec
// §4.4's automatic path). Neither the engine nor the recovery package
// calls it.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.IsBroken = false
	b.state.BrokenAt = nil
	b.state.BrokenReason = ""
}

// rolloverLocked resets the daily aggregates once UTC midnight has
// passed since the last reset, and auto-clears a break whose reason was
// a daily limit — a new day gets a fresh daily budget (spec §4.6 Daily
// rollover).
func (b *Breaker) rolloverLocked(now time.Time) {
	dayStart := utils.GetDayStartFrom(now)
	if !dayStart.After(b.state.LastDailyReset) {
		return
	}
	b.state.DailyProfit = 0
	b.state.DailyLoss = 0
	b.state.DailyTrades = 0
	b.state.DailyWins = 0
	b.state.LastDailyReset = dayStart

	if b.state.IsBroken && strings.Contains(strings.ToLower(b.state.BrokenReason), "daily") {
		b.state.IsBroken = false
		b.state.BrokenAt = nil
		b.state.BrokenReason = ""
		if b.logger != nil {
			b.logger.Info("daily break auto-reset at UTC rollover")
		}
	}
}
