package models

import "time"

// TradeStatus is the whole-cycle outcome classification (spec §3/§4.5).
type TradeStatus string

const (
	TradeExecuting TradeStatus = "EXECUTING"
	TradeCompleted TradeStatus = "COMPLETED"
	TradePartial   TradeStatus = "PARTIAL"
	TradeFailed    TradeStatus = "FAILED"
	TradeResolved  TradeStatus = "RESOLVED"
)

// LegState is the per-leg state machine (spec §4.5):
//
//	INIT -> PLACED -> [poll until filled] -> FILLED -> (next leg | DONE)
//	             \-> failed/timeout -> CANCELLED -> retry<=R -> fatal
//
// Modeled the way the teacher's internal/bot/state_machine.go models the
// pair state machine: an explicit adjacency map plus a CanTransition
// helper, rather than scattered if/else checks.
type LegState string

const (
	LegInit      LegState = "INIT"
	LegPlaced    LegState = "PLACED"
	LegFilled    LegState = "FILLED"
	LegCancelled LegState = "CANCELLED"
	LegFatal     LegState = "FATAL"
)

var legValidTransitions = map[LegState][]LegState{
	LegInit:      {LegPlaced},
	LegPlaced:    {LegFilled, LegCancelled},
	LegCancelled: {LegInit, LegFatal}, // retry loops back to INIT, else fatal
	LegFilled:    {},
	LegFatal:     {},
}

// CanTransition reports whether a leg may move from `from` to `to`.
func CanTransition(from, to LegState) bool {
	for _, s := range legValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Fill is one leg's executed order detail, generalized from the teacher's
// internal/models.OrderRecord to carry the slippage/fee-currency fields
// spec §3/§4.5 require.
type Fill struct {
	LegIndex       int
	Pair           string
	Side           Direction
	State          LegState
	ExchangeTxID   string
	ExpectedPrice  float64
	ExecutedPrice  float64
	ExecutedVolume float64
	Fee            float64
	FeeCurrency    Currency
	SlippagePct    float64
	Retries        int
	LatencyMS      int64
	PlacedAt       time.Time
	FilledAt       *time.Time
	ErrorMessage   string
}

// HeldPosition records the snapshot value of an asset held after a
// PARTIAL failure (spec §3/§4.5/GLOSSARY "Snapshot value").
type HeldPosition struct {
	Currency   Currency
	Amount     float64
	ValueUSD   float64
	SnapshotAt time.Time
}

// Trade is the durable record of one execution attempt (spec §3).
type Trade struct {
	ID            string
	Cycle         Cycle
	AmountIn      float64
	InputCurrency Currency
	Status        TradeStatus
	Fills         []Fill
	AmountOut     float64
	ProfitLoss    float64
	ProfitLossPct float64
	Held          *HeldPosition // only set when Status == PARTIAL or RESOLVED-from-partial
	EstimatedPL   float64       // booked to the breaker's partial aggregates at failure time
	StartedAt     time.Time
	TerminalAt    *time.Time
	FailureReason string
}

// FirstLegFailed reports whether the cycle failed on leg 1 (spec: FAILED)
// as opposed to leg k>=2 (spec: PARTIAL).
func (t *Trade) FirstLegFailed() bool {
	return len(t.Fills) <= 1
}
