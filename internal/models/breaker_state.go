package models

import "time"

// BreakerState is the singleton circuit-breaker state described in spec
// §3/§4.6. It separately tracks completed and partial aggregates and
// enforces at-most-one concurrent execution via IsExecuting/ExecutingID.
//
// All mutation happens inside internal/breaker's single serializable
// transaction; this struct is the value that transaction reads/writes,
// generalized from the teacher's risk aggregate fields in
// internal/bot/risk.go.
type BreakerState struct {
	DailyProfit float64
	DailyLoss   float64
	TotalProfit float64
	TotalLoss   float64

	DailyTrades int
	DailyWins   int
	TotalTrades int
	TotalWins   int

	NotionalTurnover float64

	PartialTrades          int
	PartialEstimatedProfit float64
	PartialEstimatedLoss   float64

	IsBroken     bool
	BrokenAt     *time.Time
	BrokenReason string

	IsExecuting bool
	ExecutingID string

	LastDailyReset time.Time
}

// Clone returns a value copy, used by readers that want a consistent
// snapshot without holding the breaker's lock (mirrors the teacher's
// "copy under lock, return the copy" pattern in internal/bot/spread.go).
func (s *BreakerState) Clone() BreakerState {
	return *s
}
