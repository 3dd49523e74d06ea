// Package trade implements Executor (spec §4.5): the sequential,
// per-leg state machine that places, polls, and — on failure — retries
// or abandons one leg at a time, with NO automatic unwind of prior legs
// on a later leg's failure.
//
// This deliberately diverges from the teacher's internal/bot/order.go
// OrderExecutor, which places both legs of a spread in parallel and
// rolls back the filled leg if its counterpart fails. Spec §4.5/§9
// explicitly require sequential-only execution with the filled
// currency left HELD rather than unwound, so that divergence is
// intentional and recorded in SPEC_FULL.md rather than ported. What IS
// carried over is the OrderExecutor's place/poll/retry loop shape and
// state_machine.go's CanTransition-guarded step function.
package trade

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/exchange"
	"arbitrage/internal/guard"
	"arbitrage/internal/metrics"
	"arbitrage/internal/models"
	"arbitrage/internal/money"
	"arbitrage/pkg/retry"
)

// ErrNotPartial is returned by ResolvePartial when the trade holds no
// position to unwind.
var ErrNotPartial = errors.New("trade is not PARTIAL")

// invariantViolationPrefix tags leg errors whose executed volume and fee
// bookkeeping contradict each other; the engine trips the circuit
// breaker when it sees a terminal trade carrying this reason (spec §7
// Invariant violation).
const invariantViolationPrefix = "invariant violation: "

// WireResolver maps a canonical currency to the exchange's own pair
// naming for the leg being executed, and tells the executor which side
// a hop is realized on.
type WireResolver interface {
	PairFor(from, to models.Currency) (symbol string, side models.Direction, ok bool)
}

// BookSource gives the executor read access to the live top-of-book for
// leg sizing, expected-price snapshots, and the optional maker
// optimization (spec §4.5); ingress.Ingress satisfies this directly.
type BookSource interface {
	GetBook(pair string) *models.OrderBook
}

// MakerParams gates the optional intermediate-leg maker attempt (spec
// §4.5: never on the final leg, only when the cycle clears a higher
// profit bar and the book is tight enough that resting inside the
// spread is worth the fill-risk).
type MakerParams struct {
	MinProfitForMakerPct float64
	MaxSpreadForMakerPct float64
}

// Executor is Executor.
type Executor struct {
	adapter      exchange.Adapter
	wire         WireResolver
	books        BookSource
	maker        MakerParams
	logger       *zap.Logger
	maxRetries   int
	orderTimeout time.Duration
}

// New constructs an Executor. books is required: buy legs are sized off
// the live best ask, and expected-price snapshots for slippage
// accounting come from the same top-of-book read.
func New(adapter exchange.Adapter, wire WireResolver, books BookSource, maker MakerParams, maxRetries int, orderTimeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{adapter: adapter, wire: wire, books: books, maker: maker, maxRetries: maxRetries, orderTimeout: orderTimeout, logger: logger}
}

// Execute runs every leg of the cycle sequentially under the identity
// tradeID (already holding the breaker's execution slot). It always
// returns a *models.Trade, even on failure — the caller (engine) is
// responsible for persisting it and, on PARTIAL, handing it to the
// held-position accounting path (spec §4.5/§4.6).
func (ex *Executor) Execute(ctx context.Context, tradeID string, opp models.Opportunity, amountIn float64) *models.Trade {
	t := &models.Trade{
		ID:            tradeID,
		Cycle:         opp.Cycle,
		AmountIn:      amountIn,
		InputCurrency: opp.Cycle.Currencies[0],
		Status:        models.TradeExecuting,
		StartedAt:     time.Now(),
	}

	legCount := len(opp.Cycle.Currencies) - 1
	currentAmount := amountIn
	for i := 0; i < legCount; i++ {
		from, to := opp.Cycle.Currencies[i], opp.Cycle.Currencies[i+1]
		isFinalLeg := i == legCount-1
		fill, outAmount, err := ex.executeLeg(ctx, i, from, to, currentAmount, isFinalLeg, opp.NetProfitPct)
		t.Fills = append(t.Fills, fill)
		if err != nil {
			t.FailureReason = err.Error()
			now := time.Now()
			t.TerminalAt = &now
			if t.FirstLegFailed() {
				t.Status = models.TradeFailed
			} else {
				t.Status = models.TradePartial
				held := &models.HeldPosition{Currency: from, Amount: currentAmount, SnapshotAt: now}
				held.ValueUSD = ex.snapshotUSD(from, currentAmount)
				t.Held = held
				if held.ValueUSD > 0 {
					t.EstimatedPL = held.ValueUSD - amountIn
				}
			}
			return t
		}
		currentAmount = outAmount
	}

	// Booked P/L is the one figure spec §8 holds to an exact-ULP
	// invariant (amount_in + profit_loss = amount_out), so it is computed
	// in money.Amount rather than accumulated float64, then converted
	// back for the (display-only) Trade record.
	in := money.NewFromFloat(amountIn)
	out := money.NewFromFloat(currentAmount)
	pl := out.Sub(in)

	t.AmountOut = currentAmount
	t.ProfitLoss = pl.Float64()
	if amountIn > 0 {
		t.ProfitLossPct = pl.Div(in).Float64() * 100
	}
	now := time.Now()
	t.TerminalAt = &now
	t.Status = models.TradeCompleted
	return t
}

// executeLeg drives one leg through INIT -> PLACED -> FILLED. Any
// failure — rejection, cancel, expiry, or fill deadline — loops the leg
// back to INIT for another attempt until max_retries_per_leg is spent
// (spec §4.5: retry count equal to the budget is allowed, one more is
// fatal). On every leg but the last it first tries the optional maker
// optimization when the cycle's net profit and the book's spread clear
// their respective maker thresholds; an unfilled maker attempt counts
// as one retry against the same budget.
func (ex *Executor) executeLeg(ctx context.Context, legIndex int, from, to models.Currency, amount float64, isFinalLeg bool, netProfitPct float64) (models.Fill, float64, error) {
	symbol, side, ok := ex.wire.PairFor(from, to)
	if !ok {
		return models.Fill{LegIndex: legIndex, State: models.LegFatal, ErrorMessage: "no pair mapping for leg"}, 0, fmt.Errorf("no pair for %s->%s", from, to)
	}

	fill := models.Fill{LegIndex: legIndex, Pair: symbol, Side: side, State: models.LegInit, PlacedAt: time.Now()}

	if !isFinalLeg && netProfitPct >= ex.maker.MinProfitForMakerPct && ex.maker.MinProfitForMakerPct > 0 {
		if outAmount, filled := ex.tryMakerFill(ctx, &fill, symbol, side, from, to, amount); filled {
			return fill, outAmount, nil
		}
		// Unfilled within the maker sub-deadline: tryMakerFill already
		// reset fill to LegInit and counted one retry, so execution
		// continues below as a normal market order (spec §4.5: "cancelled
		// and re-placed as market, counts as one retry").
	}

	var lastErr error
	for fill.Retries <= ex.maxRetries {
		outAmount, err := ex.attemptMarketLeg(ctx, &fill, symbol, side, from, to, amount)
		if err == nil {
			return fill, outAmount, nil
		}
		lastErr = err
		if ctx.Err() != nil || isPermanentLegError(err) {
			break
		}
		fill.Retries++
		fill.State = models.LegInit
		fill.ExchangeTxID = ""
		ex.logger.Warn("leg attempt failed, looping back to INIT",
			zap.Int("leg", legIndex),
			zap.String("pair", symbol),
			zap.Int("retries", fill.Retries),
			zap.Error(err))
	}

	fill.State = models.LegFatal
	fill.ErrorMessage = lastErr.Error()
	return fill, 0, fmt.Errorf("leg %d (%s) failed after %d retries: %w", legIndex, symbol, fill.Retries, lastErr)
}

// attemptMarketLeg runs one INIT -> PLACED -> FILLED pass: snapshot the
// expected price, size and place a market order, and poll to a terminal
// state within the leg deadline. A cancel is issued on expiry before
// the error is returned so the caller can decide whether budget remains
// to loop back to INIT.
func (ex *Executor) attemptMarketLeg(ctx context.Context, fill *models.Fill, symbol string, side models.Direction, from, to models.Currency, amount float64) (float64, error) {
	expected, volume, err := ex.sizeLeg(symbol, side, amount)
	if err != nil {
		return 0, err
	}
	fill.ExpectedPrice = expected

	if !models.CanTransition(fill.State, models.LegPlaced) {
		return 0, fmt.Errorf("%sleg in state %s cannot be placed", invariantViolationPrefix, fill.State)
	}
	fill.PlacedAt = time.Now()

	// Only Transient I/O is worth re-sending at the transport layer; an
	// order rejection surfaces immediately to the leg loop, which owns
	// the spec-visible retry budget.
	var txID string
	placeErr := retry.Do(ctx, retry.Transport(), func() error {
		var e error
		txID, e = ex.adapter.PlaceOrder(ctx, exchange.OrderRequest{
			Pair:      symbol,
			Side:      string(side),
			OrderType: "market",
			Volume:    volume,
		})
		if e != nil && guard.Classify(e) != guard.ClassTransientIO {
			return retry.Permanent(e)
		}
		return e
	})
	if placeErr != nil {
		return 0, placeErr
	}
	fill.State = models.LegPlaced
	fill.ExchangeTxID = txID

	status, pollErr := ex.pollUntilTerminal(ctx, txID)
	if pollErr != nil {
		fill.State = models.LegCancelled
		fill.ErrorMessage = pollErr.Error()
		_ = ex.adapter.CancelOrder(ctx, txID)
		return 0, pollErr
	}

	now := time.Now()
	fill.State = models.LegFilled
	fill.FilledAt = &now
	fill.ExecutedPrice = status.Price
	fill.ExecutedVolume = status.VolumeExec
	fill.Fee = status.Fee
	fill.FeeCurrency = models.Currency(status.FeeCurrency)
	fill.SlippagePct = slippagePct(side, expected, status.Price)
	fill.LatencyMS = now.Sub(fill.PlacedAt).Milliseconds()
	metrics.LegLatency.WithLabelValues(strconv.Itoa(fill.LegIndex)).Observe(float64(fill.LatencyMS) / 1000)

	outAmount := legOutput(side, from, to, status)
	if status.VolumeExec > 0 && outAmount <= 0 {
		return 0, fmt.Errorf("%sexecuted volume %v with fee %v %s yields non-positive output",
			invariantViolationPrefix, status.VolumeExec, status.Fee, status.FeeCurrency)
	}
	return outAmount, nil
}

// sizeLeg snapshots the expected price from the current top-of-book and
// converts the carried amount into the order volume the exchange
// expects (base units): a buy spends quote, so volume = amount/ask; a
// sell spends base directly.
func (ex *Executor) sizeLeg(symbol string, side models.Direction, amount float64) (expected, volume float64, err error) {
	var book *models.OrderBook
	if ex.books != nil {
		book = ex.books.GetBook(symbol)
	}

	if side == models.DirectionBuy {
		if book == nil {
			return 0, 0, fmt.Errorf("no order book for %s to size buy leg", symbol)
		}
		ask, ok := book.BestAsk()
		if !ok || ask.Price <= 0 {
			return 0, 0, fmt.Errorf("no ask on %s to size buy leg", symbol)
		}
		return ask.Price, amount / ask.Price, nil
	}

	if book != nil {
		if bid, ok := book.BestBid(); ok {
			expected = bid.Price
		}
	}
	return expected, amount, nil
}

// slippagePct follows spec §4.5: buys lose when they execute above the
// expected price, sells when they execute below it.
func slippagePct(side models.Direction, expected, executed float64) float64 {
	if expected <= 0 || executed <= 0 {
		return 0
	}
	if side == models.DirectionBuy {
		return (executed - expected) / expected
	}
	return (expected - executed) / expected
}

// legOutput converts a terminal order status into the amount carried
// into the next leg, net of the fee applied to whichever asset the
// exchange charged it in (spec §9's fee-currency Open Question): a buy
// produces base units, a sell produces quote units, and a fee in the
// other asset is converted across the executed price. When the exchange
// reports no fee currency the quote-side convention is assumed, which
// is what Kraken charges for spot taker fills.
func legOutput(side models.Direction, from, to models.Currency, status exchange.OrderStatus) float64 {
	feeCur := models.Currency(status.FeeCurrency)
	if side == models.DirectionBuy {
		out := status.VolumeExec
		switch {
		case feeCur == to:
			out -= status.Fee
		case status.Price > 0: // fee in quote (= from), incl. unreported default
			out -= status.Fee / status.Price
		}
		return out
	}
	out := status.VolumeExec * status.Price
	if feeCur == from {
		out -= status.Fee * status.Price
	} else {
		out -= status.Fee // fee in quote (= to), incl. unreported default
	}
	return out
}

// isPermanentLegError stops the retry loop early for failures that no
// repeat attempt can fix (a mis-sized request would be rejected
// identically, an invariant violation must halt the cycle). Order
// rejections and timeouts stay retryable per spec §7's taxonomy.
func isPermanentLegError(err error) bool {
	var exErr *exchange.Error
	if errors.As(err, &exErr) {
		switch exErr.Code {
		case "EGeneral:Invalid arguments", "EOrder:Unknown pair", "EAPI:Invalid key", "EAPI:Invalid signature":
			return true
		}
	}
	return strings.HasPrefix(err.Error(), invariantViolationPrefix)
}

// tryMakerFill attempts a single resting limit order at the opposite
// best price (inside the spread rather than crossing it) for up to half
// the leg's order timeout. It reports (amountOut, true) on a confirmed
// fill; otherwise it cancels the resting order, marks one retry against
// fill, and returns (0, false) so the caller falls through to a market
// order for the remainder of the deadline.
func (ex *Executor) tryMakerFill(ctx context.Context, fill *models.Fill, symbol string, side models.Direction, from, to models.Currency, amount float64) (float64, bool) {
	if ex.books == nil {
		return 0, false
	}
	book := ex.books.GetBook(symbol)
	if book == nil || !book.Valid {
		return 0, false
	}
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA || ask.Price <= 0 {
		return 0, false
	}
	spreadPct := (ask.Price - bid.Price) / ask.Price
	if spreadPct > ex.maker.MaxSpreadForMakerPct {
		return 0, false
	}

	// Rest on the passive side of the book: a buy crosses at best ask to
	// take liquidity, so the maker attempt instead offers at best bid;
	// symmetrically a sell offers at best ask.
	makerPrice := bid.Price
	volume := amount / makerPrice
	if side == models.DirectionSell {
		makerPrice = ask.Price
		volume = amount
	}

	txID, err := ex.adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Pair: symbol, Side: string(side), OrderType: "limit", Volume: volume, Price: makerPrice,
	})
	if err != nil {
		return 0, false
	}
	fill.State = models.LegPlaced
	fill.ExchangeTxID = txID
	fill.ExpectedPrice = makerPrice

	deadline := time.Now().Add(ex.orderTimeout / 2)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, qerr := ex.adapter.QueryOrder(ctx, txID)
		if qerr == nil && status.State == exchange.OrderClosed {
			now := time.Now()
			fill.State = models.LegFilled
			fill.FilledAt = &now
			fill.ExecutedPrice = status.Price
			fill.ExecutedVolume = status.VolumeExec
			fill.Fee = status.Fee
			fill.FeeCurrency = models.Currency(status.FeeCurrency)
			fill.SlippagePct = slippagePct(side, makerPrice, status.Price)
			fill.LatencyMS = now.Sub(fill.PlacedAt).Milliseconds()
			return legOutput(side, from, to, status), true
		}
		if time.Now().After(deadline) {
			_ = ex.adapter.CancelOrder(ctx, txID)
			fill.State = models.LegInit
			fill.ExchangeTxID = ""
			fill.Retries++
			return 0, false
		}
		select {
		case <-ctx.Done():
			_ = ex.adapter.CancelOrder(ctx, txID)
			return 0, false
		case <-ticker.C:
		}
	}
}

// snapshotUSD values a held asset with one read against a direct
// <currency>/USD (or /USDT) book — the estimate-only snapshot value of
// spec §4.5; returns 0 when no direct conversion exists.
func (ex *Executor) snapshotUSD(currency models.Currency, amount float64) float64 {
	if currency == "USD" {
		return amount
	}
	if ex.books == nil {
		return 0
	}
	for _, quote := range []models.Currency{"USD", "USDT"} {
		symbol, side, ok := ex.wire.PairFor(currency, quote)
		if !ok {
			continue
		}
		book := ex.books.GetBook(symbol)
		if book == nil {
			continue
		}
		if side == models.DirectionSell {
			if bid, ok := book.BestBid(); ok {
				return amount * bid.Price
			}
		} else if ask, ok := book.BestAsk(); ok && ask.Price > 0 {
			return amount / ask.Price
		}
	}
	return 0
}

// ResolvePartial liquidates a PARTIAL trade's held position into USD
// with a single market sell and transitions the record to RESOLVED
// (spec §4.5 Resolution). It returns the realized USD amount; the
// caller hands realized-vs-estimated P/L to the circuit breaker.
func (ex *Executor) ResolvePartial(ctx context.Context, t *models.Trade) (float64, error) {
	if t.Status != models.TradePartial || t.Held == nil {
		return 0, ErrNotPartial
	}

	symbol, side, ok := ex.wire.PairFor(t.Held.Currency, "USD")
	if !ok || side != models.DirectionSell {
		return 0, fmt.Errorf("no direct %s/USD pair to unwind held position", t.Held.Currency)
	}

	fill := models.Fill{LegIndex: len(t.Fills), Pair: symbol, Side: side, State: models.LegInit, PlacedAt: time.Now()}
	realized, err := ex.attemptMarketLeg(ctx, &fill, symbol, side, t.Held.Currency, "USD", t.Held.Amount)
	if err != nil {
		return 0, fmt.Errorf("unwind %s: %w", symbol, err)
	}
	t.Fills = append(t.Fills, fill)

	in := money.NewFromFloat(t.AmountIn)
	out := money.NewFromFloat(realized)
	pl := out.Sub(in)

	t.Status = models.TradeResolved
	t.AmountOut = realized
	t.ProfitLoss = pl.Float64()
	if t.AmountIn > 0 {
		t.ProfitLossPct = pl.Div(in).Float64() * 100
	}
	now := time.Now()
	t.TerminalAt = &now
	return realized, nil
}

func (ex *Executor) pollUntilTerminal(ctx context.Context, txID string) (exchange.OrderStatus, error) {
	deadline := time.Now().Add(ex.orderTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := ex.adapter.QueryOrder(ctx, txID)
		if err == nil {
			switch status.State {
			case exchange.OrderClosed:
				return status, nil
			case exchange.OrderCanceled, exchange.OrderExpired:
				return exchange.OrderStatus{}, fmt.Errorf("order %s terminated without fill: %s", txID, status.State)
			}
		}
		if time.Now().After(deadline) {
			return exchange.OrderStatus{}, fmt.Errorf("order %s timed out waiting for fill", txID)
		}
		select {
		case <-ctx.Done():
			return exchange.OrderStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsInvariantViolation reports whether a trade's failure reason records
// a bookkeeping inconsistency the circuit breaker must react to.
func IsInvariantViolation(reason string) bool {
	return strings.Contains(reason, invariantViolationPrefix)
}
