// Package recovery implements startup reconciliation (SPEC_FULL.md
// §4.9): on process start it loads any trade left in EXECUTING or
// PARTIAL status by a prior crash, re-queries the exchange for the last
// fill's order state, and marks the trade COMPLETED (that order closed
// and it was the cycle's final leg), FAILED (no fill was recorded), or
// PARTIAL with a fresh held-position snapshot for the operator to act on.
//
// Grounded on the teacher's internal/bot/recovery.go RecoveryManager,
// which performs the same query-exchange-then-reconcile-local-state
// pattern for its own in-flight spread positions at startup.
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/breaker"
	"arbitrage/internal/exchange"
	"arbitrage/internal/models"
)

// TradeStore is the subset of the repository recovery needs.
type TradeStore interface {
	ListUnresolved(ctx context.Context) ([]*models.Trade, error)
	Save(ctx context.Context, t *models.Trade) error
}

// PairResolver maps a currency hop to the exchange pair realizing it;
// the engine's catalog-backed wire resolver satisfies it.
type PairResolver interface {
	PairFor(from, to models.Currency) (symbol string, side models.Direction, ok bool)
}

// Manager is the restart reconciliation entry point.
type Manager struct {
	store   TradeStore
	adapter exchange.Adapter
	br      *breaker.Breaker
	pairs   PairResolver
	logger  *zap.Logger
}

func New(store TradeStore, adapter exchange.Adapter, br *breaker.Breaker, pairs PairResolver, logger *zap.Logger) *Manager {
	return &Manager{store: store, adapter: adapter, br: br, pairs: pairs, logger: logger}
}

// Run reconciles every unresolved trade found at startup (spec §4.9).
// It never places new orders; it only re-reads state and updates
// records, since guessing at corrective action after a crash risks
// compounding the failure (spec §7 Fatal configuration / Invariant
// violation handling: prefer halting over guessing).
func (m *Manager) Run(ctx context.Context) error {
	trades, err := m.store.ListUnresolved(ctx)
	if err != nil {
		return err
	}
	for _, t := range trades {
		m.reconcile(ctx, t)
		if err := m.store.Save(ctx, t); err != nil {
			m.logger.Error("failed to persist reconciled trade", zap.String("trade_id", t.ID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) reconcile(ctx context.Context, t *models.Trade) {
	if len(t.Fills) == 0 {
		t.Status = models.TradeFailed
		t.FailureReason = "no fills recorded before restart"
		finalize(t)
		return
	}

	last := &t.Fills[len(t.Fills)-1]
	if last.State != models.LegPlaced || last.ExchangeTxID == "" {
		m.resolveAsPartial(ctx, t, last, false)
		return
	}

	status, err := m.adapter.QueryOrder(ctx, last.ExchangeTxID)
	if err != nil {
		m.logger.Warn("could not re-query in-flight order at startup", zap.String("trade_id", t.ID), zap.Error(err))
		m.resolveAsPartial(ctx, t, last, false)
		return
	}

	switch status.State {
	case exchange.OrderClosed:
		now := time.Now()
		last.State = models.LegFilled
		last.FilledAt = &now
		last.ExecutedPrice = status.Price
		last.ExecutedVolume = status.VolumeExec
		last.Fee = status.Fee
		if !t.FirstLegFailed() && len(t.Fills) == t.Cycle.Legs() {
			t.Status = models.TradeCompleted
			t.AmountOut = legOutput(last)
			t.ProfitLoss = t.AmountOut - t.AmountIn
			if t.AmountIn > 0 {
				t.ProfitLossPct = t.ProfitLoss / t.AmountIn * 100
			}
		} else {
			m.resolveAsPartial(ctx, t, last, true)
			return
		}
	default:
		m.resolveAsPartial(ctx, t, last, false)
		return
	}
	finalize(t)
}

// resolveAsPartial books the held position left by a trade interrupted
// at restart. filled tells it whether `last` is known to have actually
// executed (the exchange reports it closed) as opposed to merely placed
// or of unknown outcome: a filled leg leaves the cycle holding the
// currency that leg produced, an unfilled one leaves it holding the
// currency the leg was funded with — the same convention
// internal/trade/executor.go uses for a live partial failure. The held
// position carries a snapshot USD value the same way a live PARTIAL
// does, so the breaker's partial aggregates book a real estimate rather
// than zero.
func (m *Manager) resolveAsPartial(ctx context.Context, t *models.Trade, last *models.Fill, filled bool) {
	if !filled {
		last.State = models.LegCancelled
	}
	t.Status = models.TradePartial
	held := &models.HeldPosition{
		Currency:   heldCurrencyFor(t, last, filled),
		Amount:     heldAmountFor(t, last, filled),
		SnapshotAt: time.Now(),
	}
	held.ValueUSD = m.snapshotUSD(ctx, held.Currency, held.Amount)
	t.Held = held
	if held.ValueUSD > 0 {
		t.EstimatedPL = held.ValueUSD - t.AmountIn
	}
	t.FailureReason = "resolved as partial during startup recovery"
	finalize(t)
	if m.br != nil {
		m.br.RecordPartial(t.EstimatedPL)
	}
}

// snapshotUSD values a held asset with one public ticker lookup against
// a direct <currency>/USD (or /USDT) pair. The streaming books don't
// exist yet at recovery time, so this is the REST mirror of the
// executor's own book-based snapshot; 0 means no direct conversion was
// reachable and the estimate stays unknown.
func (m *Manager) snapshotUSD(ctx context.Context, currency models.Currency, amount float64) float64 {
	if currency == "USD" {
		return amount
	}
	if m.pairs == nil {
		return 0
	}
	for _, quote := range []models.Currency{"USD", "USDT"} {
		symbol, side, ok := m.pairs.PairFor(currency, quote)
		if !ok {
			continue
		}
		bid, ask, err := m.adapter.Ticker(ctx, symbol)
		if err != nil {
			m.logger.Warn("ticker lookup for held-position snapshot failed",
				zap.String("pair", symbol), zap.Error(err))
			continue
		}
		if side == models.DirectionSell && bid > 0 {
			return amount * bid
		}
		if side == models.DirectionBuy && ask > 0 {
			return amount / ask
		}
	}
	return 0
}

func heldCurrencyFor(t *models.Trade, last *models.Fill, filled bool) models.Currency {
	idx := last.LegIndex
	if filled && idx+1 < len(t.Cycle.Currencies) {
		return t.Cycle.Currencies[idx+1]
	}
	return t.Cycle.Currencies[idx]
}

// heldAmountFor resolves the size of the held position: a filled leg's
// own realized output, or — for an unfilled leg — whatever amount fed
// into it (the original AmountIn for leg 0, otherwise the prior leg's
// realized output).
func heldAmountFor(t *models.Trade, last *models.Fill, filled bool) float64 {
	if filled {
		return legOutput(last)
	}
	if last.LegIndex == 0 {
		return t.AmountIn
	}
	return legOutput(&t.Fills[last.LegIndex-1])
}

func legOutput(f *models.Fill) float64 {
	if f.Side == models.DirectionSell {
		return f.ExecutedVolume * f.ExecutedPrice
	}
	return f.ExecutedVolume
}

func finalize(t *models.Trade) {
	now := time.Now()
	t.TerminalAt = &now
}
