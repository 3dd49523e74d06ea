// Package guard implements TradeGuard (spec §4.4): eight ordered,
// short-circuited pre-trade checks applied to a candidate Opportunity
// before the executor is invoked. Modeled on the teacher's
// CheckEntryConditions (internal/bot/arbitrage.go), which also applies
// an ordered sequence of cheap-to-expensive guard clauses and returns the
// first failing reason rather than accumulating every violation.
package guard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/breaker"
	"arbitrage/internal/config"
	"arbitrage/internal/exchange"
	"arbitrage/internal/graph"
	"arbitrage/internal/models"
	"arbitrage/internal/money"
)

// Verdict is the check's outcome classification (spec §4.4/§7).
type Verdict string

const (
	VerdictPass     Verdict = "PASS"
	VerdictSkipped  Verdict = "SKIPPED"  // disabled or not configured
	VerdictMissed   Verdict = "MISSED"   // raced, window closed before check ran
	VerdictFiltered Verdict = "FILTERED" // failed an explicit policy check
)

// Result is the outcome of running every check against one opportunity.
type Result struct {
	Verdict  Verdict
	Reason   string
	FailedAt string // which of the 8 checks stopped evaluation, "" if passed
}

// BalanceFetcher abstracts the TTL-cached balance lookup (spec §4.4
// check 4: 10s cache, races classified MISSED per SPEC_FULL.md's Open
// Question resolution).
type BalanceFetcher interface {
	Balance(ctx context.Context, currency models.Currency) (float64, time.Time, error)
}

// LivenessProber is the lightweight exchange reachability probe run
// before committing to an execution (spec §4.4 check 5).
type LivenessProber interface {
	Ping(ctx context.Context) error
}

// Guard is TradeGuard.
type Guard struct {
	cfg     *config.TradingConfig
	br      *breaker.Breaker
	g       *graph.Graph
	balance BalanceFetcher
	prober  LivenessProber
	logger  *zap.Logger
}

func New(cfg *config.TradingConfig, br *breaker.Breaker, g *graph.Graph, balance BalanceFetcher, prober LivenessProber, logger *zap.Logger) *Guard {
	return &Guard{cfg: cfg, br: br, g: g, balance: balance, prober: prober, logger: logger}
}

// Evaluate runs the ordered pre-trade checks against opp,
// short-circuiting at the first failure (spec §4.4):
//
//  1. trading enabled
//  2. circuit breaker not broken
//  3. remaining daily and total loss budget cover the trade amount
//  4. sufficient balance in the start currency (TTL-cached)
//  5. exchange liveness probe
//  6. base currency permitted by the configured filter
//  7. net profit clears the configured threshold
//  8. the at-most-one execution slot is claimed atomically for tradeID
//
// Two environmental re-checks are interleaved: the opportunity must not
// have aged out of the cache, and every edge of the cycle must still be
// valid in the live graph — both MISSED, since the window closed rather
// than a policy saying no.
//
// On a PASS the execution slot is held by tradeID; the caller must
// route the trade through the executor and release the slot via the
// breaker's completion/partial bookkeeping.
func (gd *Guard) Evaluate(ctx context.Context, opp models.Opportunity, tradeID string) Result {
	if !gd.cfg.Enabled() {
		return Result{Verdict: VerdictSkipped, Reason: "trading disabled", FailedAt: "enabled"}
	}

	state := gd.br.Snapshot()
	if state.IsBroken {
		return Result{Verdict: VerdictMissed, Reason: "circuit breaker is broken: " + state.BrokenReason, FailedAt: "breaker"}
	}

	if opp.AgeMS(time.Now()) > gd.cfg.RejectStalenessMS.Milliseconds() {
		return Result{Verdict: VerdictMissed, Reason: "opportunity aged out of cache", FailedAt: "freshness"}
	}

	remainingDaily := gd.cfg.MaxDailyLossUSD - state.DailyLoss
	if remainingDaily < gd.cfg.TradeAmount {
		return Result{Verdict: VerdictMissed, Reason: fmt.Sprintf("remaining daily budget $%.2f below trade amount", remainingDaily), FailedAt: "daily_budget"}
	}
	remainingTotal := gd.cfg.MaxTotalLossUSD - state.TotalLoss
	if remainingTotal < gd.cfg.TradeAmount {
		return Result{Verdict: VerdictMissed, Reason: fmt.Sprintf("remaining total budget $%.2f below trade amount", remainingTotal), FailedAt: "total_budget"}
	}

	input := opp.Cycle.Currencies[0]
	bal, fetchedAt, err := gd.balance.Balance(ctx, input)
	if err != nil {
		return Result{Verdict: VerdictMissed, Reason: "balance lookup failed: " + err.Error(), FailedAt: "balance"}
	}
	if time.Since(fetchedAt) > 10*time.Second {
		return Result{Verdict: VerdictMissed, Reason: "balance cache stale", FailedAt: "balance"}
	}
	if bal < gd.cfg.TradeAmount {
		return Result{Verdict: VerdictMissed, Reason: "insufficient balance", FailedAt: "balance"}
	}

	if gd.prober != nil {
		if err := gd.prober.Ping(ctx); err != nil {
			return Result{Verdict: VerdictMissed, Reason: "exchange liveness probe failed: " + err.Error(), FailedAt: "liveness"}
		}
	}

	if !gd.baseAllowed(input) {
		return Result{Verdict: VerdictFiltered, Reason: "base currency not in configured trading set", FailedAt: "base_currency"}
	}

	for i := 0; i < len(opp.Cycle.Currencies)-1; i++ {
		from, to := opp.Cycle.Currencies[i], opp.Cycle.Currencies[i+1]
		if !gd.edgeStillValid(from, to) {
			return Result{Verdict: VerdictMissed, Reason: "edge invalidated since scan: " + string(from) + "->" + string(to), FailedAt: "edge_validity"}
		}
	}

	// The executable threshold check happens in money.Amount so the same
	// representation gates execution that later books the trade's P/L
	// (spec §4.3's "must match the percentage emitted to the audit
	// record"), not the scanner's float64 hot-path accumulation.
	net := money.NewFromFloat(opp.NetProfitPct)
	threshold := money.NewFromFloat(gd.cfg.MinProfitThresholdPct)
	if net.LessThan(threshold) {
		return Result{Verdict: VerdictSkipped, Reason: "net profit below threshold at guard time", FailedAt: "profitability"}
	}

	if err := gd.br.TryMarkExecuting(tradeID); err != nil {
		return Result{Verdict: VerdictSkipped, Reason: "Trade already in progress", FailedAt: "exclusivity"}
	}

	return Result{Verdict: VerdictPass}
}

func (gd *Guard) edgeStillValid(from, to models.Currency) bool {
	for _, e := range gd.g.EdgesFrom(from) {
		if e.To == to {
			return e.Valid
		}
	}
	return false
}

func (gd *Guard) baseAllowed(c models.Currency) bool {
	switch gd.cfg.BaseCurrency {
	case config.BaseCurrencyAll:
		return true
	case config.BaseCurrencyCustom:
		for _, allowed := range gd.cfg.CustomCurrencies {
			if allowed == string(c) {
				return true
			}
		}
		return false
	default:
		return string(gd.cfg.BaseCurrency) == string(c)
	}
}

// FailureClass buckets an execution-time error into the spec §7
// taxonomy so the breaker/audit sink can react uniformly.
type FailureClass string

const (
	ClassTransientIO       FailureClass = "TRANSIENT_IO"
	ClassProtocolGap       FailureClass = "PROTOCOL_GAP"
	ClassOrderRejection    FailureClass = "ORDER_REJECTION"
	ClassPolicyDenial      FailureClass = "POLICY_DENIAL"
	ClassFatalConfig       FailureClass = "FATAL_CONFIG"
	ClassInvariantViolated FailureClass = "INVARIANT_VIOLATION"
)

// Classify maps a raw error to its failure class. Exchange-surfaced
// errors (*exchange.Error) are treated as order rejections unless their
// code matches a known transient pattern; anything else defaults to
// transient I/O, the safest retryable assumption (spec §7).
func Classify(err error) FailureClass {
	if err == nil {
		return ""
	}
	var exErr *exchange.Error
	if asExchangeError(err, &exErr) {
		switch exErr.Code {
		case "EService:Busy", "EService:Unavailable", "EAPI:Rate limit exceeded":
			return ClassTransientIO
		case "EOrder:Insufficient funds", "EOrder:Invalid price", "EOrder:Order minimum not met":
			return ClassOrderRejection
		default:
			return ClassOrderRejection
		}
	}
	return ClassTransientIO
}

func asExchangeError(err error, target **exchange.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*exchange.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
