// Package engine wires MarketDataIngress, ConversionGraph, PathScanner,
// TradeGuard, Executor, and CircuitBreaker into the running pipeline
// described end to end by spec §2/§5. It is the generalization of the
// teacher's internal/bot/engine.go top-level orchestrator — same
// goroutine-per-stage, channel-handoff shape — retargeted from a
// per-pair cross-exchange spread loop to this single-exchange
// triangular-arb pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbitrage/internal/breaker"
	"arbitrage/internal/config"
	"arbitrage/internal/exchange"
	"arbitrage/internal/graph"
	"arbitrage/internal/guard"
	"arbitrage/internal/ingress"
	"arbitrage/internal/metrics"
	"arbitrage/internal/models"
	"arbitrage/internal/repository"
	"arbitrage/internal/scanner"
	"arbitrage/internal/trade"
)

const (
	healthSnapshotInterval = 5 * time.Minute
	auditRetention         = 30 * 24 * time.Hour
	auditCleanupInterval   = 24 * time.Hour
)

// ErrTradeNotResolvable is returned by ResolvePartial when the trade id
// does not reference a PARTIAL trade.
var ErrTradeNotResolvable = errors.New("trade is not in a resolvable state")

// BalanceCache implements guard.BalanceFetcher with a simple TTL-refresh
// wrapper around the adapter's Balance() call, matching spec §4.4 check
// 4's "10s cache, races classified MISSED" resolution.
type BalanceCache struct {
	adapter exchange.Adapter
	ttl     time.Duration

	cached    map[models.Currency]float64
	fetchedAt time.Time
}

func NewBalanceCache(adapter exchange.Adapter, ttl time.Duration) *BalanceCache {
	return &BalanceCache{adapter: adapter, ttl: ttl, cached: map[models.Currency]float64{}}
}

func (b *BalanceCache) Balance(ctx context.Context, currency models.Currency) (float64, time.Time, error) {
	if time.Since(b.fetchedAt) > b.ttl {
		raw, err := b.adapter.Balance(ctx)
		if err != nil {
			return 0, b.fetchedAt, err
		}
		fresh := make(map[models.Currency]float64, len(raw))
		for sym, v := range raw {
			fresh[models.Currency(sym)] = v
		}
		b.cached = fresh
		b.fetchedAt = time.Now()
	}
	return b.cached[currency], b.fetchedAt, nil
}

// Engine owns the pipeline's lifecycle.
type Engine struct {
	cfg     *config.Config
	adapter exchange.Adapter
	logger  *zap.Logger

	ingress  *ingress.Ingress
	graph    *graph.Graph
	scanner  *scanner.Scanner
	breaker  *breaker.Breaker
	guard    *guard.Guard
	executor *trade.Executor
	shadow   *trade.ShadowExecutor
	wire     *pairWireResolver

	tradeRepo  *repository.TradeRepository
	oppRepo    *repository.OpportunityRepository
	notifRepo  *repository.NotificationRepository
	healthRepo *repository.HealthSnapshotRepository

	// rejectedOpportunities counts Ready events the guard turned away,
	// reported in health snapshots (spec §4.7).
	rejectedOpportunities atomic.Int64
}

// New assembles every stage. pairs is the bootstrap catalog fetched via
// adapter.ListPairs at startup (spec §4.1 Startup). Any repository may
// be nil, in which case that audit stream is simply not persisted.
func New(cfg *config.Config, adapter exchange.Adapter, pairs map[string]models.Pair, tradeRepo *repository.TradeRepository, oppRepo *repository.OpportunityRepository, notifRepo *repository.NotificationRepository, healthRepo *repository.HealthSnapshotRepository, logger *zap.Logger) *Engine {
	ing := ingress.New(adapter, cfg.Trading.OrderbookDepth, ingress.Thresholds{
		Warn:   cfg.Trading.WarnStalenessMS,
		Buffer: cfg.Trading.BufferStalenessMS,
		Reject: cfg.Trading.RejectStalenessMS,
	}, logger)

	// cfg.Trading.{MaxSpreadPct,TakerFeePct} are percentage points per
	// spec §6 (e.g. 10 meaning 10%, 0.26 meaning 0.26%); the graph's
	// multiplier/spread math works in fractions, so both are divided by
	// 100 at this wiring boundary.
	g := graph.New(ing, graph.Params{
		MinDepthLevels:  cfg.Trading.MinDepthLevels,
		MaxSpreadPct:    cfg.Trading.MaxSpreadPct / 100,
		RejectStaleness: cfg.Trading.RejectStalenessMS,
		Fees:            graph.FeeSchedule{TakerFeePct: cfg.Trading.TakerFeePct / 100},
	}, pairs, logger)

	bases := make([]models.Currency, 0, len(cfg.Trading.Bases))
	for _, b := range cfg.Trading.Bases {
		bases = append(bases, models.Currency(b))
	}
	sc := scanner.New(g, scanner.Params{
		Bases:                   bases,
		MinLegs:                 3,
		MaxLegs:                 4,
		StaleAfter:              5 * time.Second,
		MinProfitPct:            cfg.Trading.MinProfitThresholdPct,
		BufferMS:                cfg.Trading.BufferStalenessMS.Milliseconds(),
		LatencyPenaltyPctPerLeg: cfg.Trading.LatencyPenaltyPctPerLeg,
	}, logger)

	br := breaker.New(breaker.Limits{
		MaxDailyLossUSD: cfg.Trading.MaxDailyLossUSD,
		MaxTotalLossUSD: cfg.Trading.MaxTotalLossUSD,
	}, logger)
	br.OnTrip = func(reason string) {
		// A tripped breaker force-disables the master switch; execution
		// stays off until an operator reset (spec §4.6).
		cfg.Trading.SetEnabled(false)
		metrics.BreakerTripped.Inc()
		metrics.BreakerIsBroken.Set(1)
		if notifRepo != nil {
			go func() {
				err := notifRepo.Create(context.Background(), models.Notification{
					Timestamp: time.Now(),
					Type:      models.NotificationTypeBreakerTripped,
					Severity:  models.SeverityError,
					Message:   reason,
				})
				if err != nil {
					logger.Warn("failed to persist breaker-tripped notification", zap.Error(err))
				}
			}()
		}
	}

	balances := NewBalanceCache(adapter, 10*time.Second)
	gd := guard.New(&cfg.Trading, br, g, balances, adapter, logger)

	wire := newPairWireResolver(pairs, models.DefaultQuoteCurrencies)
	maker := trade.MakerParams{
		MinProfitForMakerPct: cfg.Trading.MinProfitForMakerPct,
		MaxSpreadForMakerPct: cfg.Trading.MaxSpreadForMakerPct / 100,
	}
	ex := trade.New(adapter, wire, ing, maker, cfg.Trading.MaxRetriesPerLeg, time.Duration(cfg.Trading.OrderTimeoutSeconds)*time.Second, logger)

	return &Engine{
		cfg: cfg, adapter: adapter, logger: logger,
		ingress: ing, graph: g, scanner: sc, breaker: br, guard: gd, executor: ex,
		shadow: trade.NewShadowExecutor(g.EdgesFrom), wire: wire,
		tradeRepo: tradeRepo, oppRepo: oppRepo, notifRepo: notifRepo, healthRepo: healthRepo,
	}
}

func (e *Engine) Breaker() *breaker.Breaker { return e.breaker }
func (e *Engine) Scanner() *scanner.Scanner { return e.scanner }

// WireResolver exposes the catalog-backed pair resolver for
// collaborators constructed outside the engine (startup recovery's
// held-position valuation).
func (e *Engine) WireResolver() trade.WireResolver { return e.wire }

// Run starts every pipeline stage and blocks handling scanner-ready
// notifications through the guard into the executor until ctx is
// cancelled (spec §5's cooperative-cancellation drain model).
func (e *Engine) Run(ctx context.Context, pairSymbols []string) error {
	metrics.ActivePairs.Set(float64(len(pairSymbols)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.ingress.Run(ctx, pairSymbols)
	}()
	go e.graph.Run()
	go e.scanner.Run()
	go e.healthLoop(ctx)
	go e.cleanupLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return <-errCh
		case ready, ok := <-e.scanner.Ready():
			if !ok {
				return <-errCh
			}
			e.handleReady(ctx, ready.Opportunity)
		}
	}
}

func (e *Engine) handleReady(ctx context.Context, opp models.Opportunity) {
	metrics.OpportunitiesDetected.Inc()

	tradeID := uuid.NewString()
	result := e.guard.Evaluate(ctx, opp, tradeID)
	metrics.GuardVerdicts.WithLabelValues(string(result.Verdict), result.FailedAt).Inc()

	if result.Verdict != guard.VerdictPass {
		e.rejectedOpportunities.Add(1)
		// With live execution disabled, the shadow executor still walks
		// the books so the opportunity history shows what the window
		// would have yielded (SPEC_FULL.md §4.8).
		if result.FailedAt == "enabled" {
			shadowTrade := e.shadow.Simulate(opp, e.cfg.Trading.TradeAmount)
			e.recordOpportunity(ctx, opp, result, "", true, shadowTrade.ProfitLoss)
			return
		}
		e.recordOpportunity(ctx, opp, result, "", false, 0)
		return
	}

	e.recordOpportunity(ctx, opp, result, tradeID, false, 0)

	t := e.executor.Execute(ctx, tradeID, opp, e.cfg.Trading.TradeAmount)
	metrics.TradesTotal.WithLabelValues(string(t.Status)).Inc()

	switch t.Status {
	case models.TradeCompleted:
		metrics.TradePnL.Add(t.ProfitLoss)
		e.breaker.MarkExecutionComplete(t.ID, t.ProfitLoss, e.cfg.Trading.TradeAmount)
	case models.TradePartial:
		e.breaker.RecordPartial(t.EstimatedPL)
	case models.TradeFailed:
		e.breaker.ReleaseExecution(t.ID)
	}
	if trade.IsInvariantViolation(t.FailureReason) {
		e.breaker.Trip(t.FailureReason)
	}
	e.notify(ctx, t)

	if e.tradeRepo != nil {
		if err := e.tradeRepo.Save(ctx, t); err != nil {
			e.logger.Error("failed to persist trade", zap.String("trade_id", t.ID), zap.Error(err))
		}
	}
}

// ResolvePartial is the operator-initiated unwind of a PARTIAL trade
// (spec §4.5 Resolution): a single market sell of the held currency into
// USD, the trade transitioned to RESOLVED, and the realized-vs-estimated
// P/L handed to the circuit breaker.
func (e *Engine) ResolvePartial(ctx context.Context, tradeID string) (*models.Trade, error) {
	if e.tradeRepo == nil {
		return nil, errors.New("no trade repository configured")
	}
	t, err := e.tradeRepo.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TradePartial {
		return nil, fmt.Errorf("%w: trade %s is %s", ErrTradeNotResolvable, tradeID, t.Status)
	}

	estPL := t.EstimatedPL
	realized, err := e.executor.ResolvePartial(ctx, t)
	if err != nil {
		return nil, err
	}
	e.breaker.ResolvePartial(estPL, realized-t.AmountIn)

	if err := e.tradeRepo.Save(ctx, t); err != nil {
		e.logger.Error("failed to persist resolved trade", zap.String("trade_id", t.ID), zap.Error(err))
	}
	e.logger.Info("partial trade resolved",
		zap.String("trade_id", t.ID),
		zap.Float64("realized_usd", realized),
		zap.Float64("estimated_pl", estPL))
	return t, nil
}

func (e *Engine) recordOpportunity(ctx context.Context, opp models.Opportunity, result guard.Result, tradeID string, shadow bool, simulatedPL float64) {
	if e.oppRepo == nil {
		return
	}
	err := e.oppRepo.Create(ctx, repository.Record{
		Opportunity:  opp,
		GuardVerdict: string(result.Verdict),
		GuardReason:  result.Reason,
		TradeID:      tradeID,
		Shadow:       shadow,
		SimulatedPL:  simulatedPL,
	})
	if err != nil {
		e.logger.Warn("failed to persist opportunity record", zap.Error(err))
	}
}

// healthLoop captures a health snapshot on a fixed cadence (spec §4.7:
// 5 minutes) while the pipeline runs.
func (e *Engine) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := e.breaker.Snapshot()
			if state.IsBroken {
				metrics.BreakerIsBroken.Set(1)
			} else {
				metrics.BreakerIsBroken.Set(0)
			}
			if e.healthRepo == nil {
				continue
			}
			stats := e.ingress.Snapshot()
			skips := e.graph.SkipCounts()
			opps, _ := e.scanner.CachedOpportunities()
			snap := repository.HealthSnapshot{
				CapturedAt:            time.Now(),
				Breaker:               state,
				ActivePairs:           stats.TotalPairs,
				ValidPairs:            stats.ValidPairs,
				CachedOpportunities:   len(opps),
				IngressLagMS:          stats.AvgFreshnessMS,
				AvgSpreadPct:          stats.AvgSpreadPct,
				AvgDepth:              stats.AvgDepth,
				SkipNoBook:            skips.NoBook,
				SkipNoPrice:           skips.NoPrice,
				SkipThinDepth:         skips.ThinDepth,
				SkipBadSpread:         skips.BadSpread,
				SkipStale:             skips.Stale,
				RejectedOpportunities: e.rejectedOpportunities.Load(),
			}
			if err := e.healthRepo.Create(ctx, snap); err != nil {
				e.logger.Warn("failed to persist health snapshot", zap.Error(err))
			}
		}
	}
}

// cleanupLoop prunes audit tables past the 30-day retention horizon
// once a day (spec §4.7's periodic bounded cleanup).
func (e *Engine) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(auditCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-auditRetention)
			if e.oppRepo != nil {
				if n, err := e.oppRepo.DeleteOlderThan(ctx, cutoff); err != nil {
					e.logger.Warn("opportunity cleanup failed", zap.Error(err))
				} else if n > 0 {
					e.logger.Info("pruned opportunity history", zap.Int64("rows", n))
				}
			}
			if e.healthRepo != nil {
				if _, err := e.healthRepo.DeleteOlderThan(ctx, cutoff); err != nil {
					e.logger.Warn("health snapshot cleanup failed", zap.Error(err))
				}
			}
			if e.notifRepo != nil {
				if _, err := e.notifRepo.DeleteOlderThan(ctx, cutoff); err != nil {
					e.logger.Warn("notification cleanup failed", zap.Error(err))
				}
			}
		}
	}
}

// notify raises an operator-facing notification for a terminal trade
// outcome. Failures to persist the notification are logged, not
// propagated — a missed notification must never block the pipeline.
func (e *Engine) notify(ctx context.Context, t *models.Trade) {
	if e.notifRepo == nil {
		return
	}
	n := models.Notification{
		Timestamp: time.Now(),
		TradeID:   &t.ID,
	}
	switch t.Status {
	case models.TradeCompleted:
		n.Type, n.Severity = models.NotificationTypeTradeCompleted, models.SeverityInfo
		n.Message = "arbitrage cycle completed"
	case models.TradePartial:
		n.Type, n.Severity = models.NotificationTypeTradePartial, models.SeverityWarn
		n.Message = "arbitrage cycle left with a held position"
	case models.TradeFailed:
		n.Type, n.Severity = models.NotificationTypeTradeFailed, models.SeverityError
		n.Message = "arbitrage cycle failed before any leg filled"
	default:
		return
	}
	if err := e.notifRepo.Create(ctx, n); err != nil {
		e.logger.Warn("failed to persist notification", zap.Error(err))
	}
}

// pairWireResolver implements trade.WireResolver from the bootstrap
// catalog plus the quote-currency set (spec §4.5 leg planning): when a
// hop could be realized through more than one listed pair, the set
// decides direction — a hop spending a quote currency buys the pair
// to/from, anything else sells from/to. The catalog remains the source
// of truth for which pairs actually exist.
type pairWireResolver struct {
	byHop  map[[2]models.Currency][]pairSide
	quotes models.QuoteCurrencySet
}

type pairSide struct {
	symbol string
	side   models.Direction
}

func newPairWireResolver(pairs map[string]models.Pair, quotes models.QuoteCurrencySet) *pairWireResolver {
	r := &pairWireResolver{byHop: map[[2]models.Currency][]pairSide{}, quotes: quotes}
	for symbol, p := range pairs {
		buyHop := [2]models.Currency{p.Quote, p.Base}
		sellHop := [2]models.Currency{p.Base, p.Quote}
		r.byHop[buyHop] = append(r.byHop[buyHop], pairSide{symbol: symbol, side: models.DirectionBuy})
		r.byHop[sellHop] = append(r.byHop[sellHop], pairSide{symbol: symbol, side: models.DirectionSell})
	}
	return r
}

func (r *pairWireResolver) PairFor(from, to models.Currency) (string, models.Direction, bool) {
	options := r.byHop[[2]models.Currency{from, to}]
	if len(options) == 0 {
		return "", "", false
	}
	preferred := models.DirectionSell
	if r.quotes.Contains(from) {
		preferred = models.DirectionBuy
	}
	for _, ps := range options {
		if ps.side == preferred {
			return ps.symbol, ps.side, true
		}
	}
	return options[0].symbol, options[0].side, true
}
