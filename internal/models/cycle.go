package models

import (
	"strings"
	"time"
)

// Cycle is an ordered sequence of 3 or 4 currencies beginning and ending
// at the same currency (spec §3).
type Cycle struct {
	ID         string // canonical "A → B → C → A" form, also the tie-break key
	Currencies []Currency
}

// NewCycle builds a Cycle and its canonical id string. Encoding/decoding
// the id is required to be an identity (spec §8 round-trip property).
func NewCycle(currencies ...Currency) Cycle {
	return Cycle{ID: EncodeCycleID(currencies), Currencies: currencies}
}

// EncodeCycleID renders the canonical "A → B → C → A" form.
func EncodeCycleID(currencies []Currency) string {
	parts := make([]string, len(currencies))
	for i, c := range currencies {
		parts[i] = string(c)
	}
	return strings.Join(parts, " → ")
}

// DecodeCycleID parses the canonical form back into currencies. It is the
// exact inverse of EncodeCycleID.
func DecodeCycleID(id string) []Currency {
	parts := strings.Split(id, " → ")
	out := make([]Currency, len(parts))
	for i, p := range parts {
		out[i] = Currency(p)
	}
	return out
}

// Legs returns the number of directed hops in the cycle (len(path)-1).
func (c Cycle) Legs() int {
	if len(c.Currencies) == 0 {
		return 0
	}
	return len(c.Currencies) - 1
}

// Opportunity is a (cycle, net_profit_pct, computed_at) triple maintained
// in the scanner's ranked cache (spec §3/§4.3). GrossProfitPct is the
// fee-exclusive raw price product; FeePct is the cumulative per-leg
// taker fee, so net_profit_pct = gross_profit_pct - fee_pct - latency
// penalty (spec §8's invariant).
type Opportunity struct {
	Cycle          Cycle
	GrossProfitPct float64
	FeePct         float64
	NetProfitPct   float64
	MinFreshnessMS int64
	ComputedAt     time.Time
}

// AgeMS is now - ComputedAt in milliseconds, used to reject stale reads
// (spec §4.3: entries older than 5s are stale).
func (o Opportunity) AgeMS(now time.Time) int64 {
	return now.Sub(o.ComputedAt).Milliseconds()
}

// IsProfitable reports net_profit_pct >= threshold (spec §4.3).
func (o Opportunity) IsProfitable(minProfitThresholdPct float64) bool {
	return o.NetProfitPct >= minProfitThresholdPct
}
