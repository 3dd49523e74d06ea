// Package graph implements ConversionGraph (spec §4.2): the directed
// multigraph of fee-adjusted conversion edges derived from the ingress's
// order books. Readers obtain a consistent *Edge via an RCU/seqlock-style
// atomic pointer swap, generalizing the teacher's "copy struct under
// RLock, return pointer to copy" pattern (internal/bot/spread.go's
// PriceTracker) to an explicit per-pair atomic.Pointer replacement so
// concurrent scanner reads never block graph writers.
package graph

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/ingress"
	"arbitrage/internal/metrics"
	"arbitrage/internal/models"
)

// FeeSchedule carries the taker fee fraction applied when deriving
// an edge's BestPriceMultiplier (spec §4.2).
type FeeSchedule struct {
	TakerFeePct float64
}

// Params configures edge validity thresholds (spec §4.2/§6).
type Params struct {
	MinDepthLevels int
	MaxSpreadPct   float64
	// RejectStaleness invalidates an edge whose book is at least this
	// old at rebuild time; zero disables the check (tests).
	RejectStaleness time.Duration
	Fees            FeeSchedule
}

// EdgeChanged notifies the scanner that both directed edges for a pair
// were replaced. A FullRebuild event carries no pair: every edge was
// recomputed (reconnect or depth/max-pairs change, spec §4.2) and the
// scanner must re-evaluate all cycles.
type EdgeChanged struct {
	Pair        string
	From        models.Currency
	To          models.Currency
	FullRebuild bool
}

type pairEntry struct {
	forward  atomic.Pointer[models.Edge] // From=quote, To=base (buy)
	backward atomic.Pointer[models.Edge] // From=base, To=quote (sell)
}

// Graph is ConversionGraph.
type Graph struct {
	ing    *ingress.Ingress
	params Params
	logger *zap.Logger

	mu       sync.RWMutex
	pairs    map[string]*pairEntry        // pair symbol -> entry
	index    map[models.Currency][]string // currency -> pair symbols touching it
	pairMeta map[string]models.Pair

	version atomic.Uint64

	// Cumulative edge-skip reasons for the periodic health snapshot
	// (spec §4.7), matching the skip taxonomy of the scanner's health
	// history in the original system.
	skipNoBook    atomic.Int64
	skipNoPrice   atomic.Int64
	skipThinDepth atomic.Int64
	skipBadSpread atomic.Int64
	skipStale     atomic.Int64

	changed chan EdgeChanged
}

// SkipCounts is a point-in-time copy of the cumulative reasons edges
// were built invalid, reported in health snapshots.
type SkipCounts struct {
	NoBook    int64
	NoPrice   int64
	ThinDepth int64
	BadSpread int64
	Stale     int64
}

// New constructs a Graph. pairMeta maps each subscribed pair symbol to
// its (base, quote) currencies, built once from the bootstrap catalog.
func New(ing *ingress.Ingress, params Params, pairMeta map[string]models.Pair, logger *zap.Logger) *Graph {
	g := &Graph{
		ing:      ing,
		params:   params,
		logger:   logger,
		pairs:    make(map[string]*pairEntry, len(pairMeta)),
		index:    make(map[models.Currency][]string),
		pairMeta: pairMeta,
		changed:  make(chan EdgeChanged, 1024),
	}
	for symbol, p := range pairMeta {
		g.pairs[symbol] = &pairEntry{}
		g.index[p.Base] = append(g.index[p.Base], symbol)
		g.index[p.Quote] = append(g.index[p.Quote], symbol)
	}
	return g
}

// EdgesFrom returns every currently-valid edge whose From currency is c,
// the scanner's "edges_from(currency)" contract (spec §4.2/§4.3).
func (g *Graph) EdgesFrom(c models.Currency) []*models.Edge {
	g.mu.RLock()
	symbols := append([]string(nil), g.index[c]...)
	g.mu.RUnlock()

	out := make([]*models.Edge, 0, len(symbols)*2)
	for _, symbol := range symbols {
		entry := g.pairs[symbol]
		if entry == nil {
			continue
		}
		if f := entry.forward.Load(); f != nil && f.Valid && f.From == c {
			out = append(out, f)
		}
		if b := entry.backward.Load(); b != nil && b.Valid && b.From == c {
			out = append(out, b)
		}
	}
	return out
}

// Changed returns the channel the scanner should range over.
func (g *Graph) Changed() <-chan EdgeChanged { return g.changed }

// SkipCounts returns the cumulative edge-skip counters.
func (g *Graph) SkipCounts() SkipCounts {
	return SkipCounts{
		NoBook:    g.skipNoBook.Load(),
		NoPrice:   g.skipNoPrice.Load(),
		ThinDepth: g.skipThinDepth.Load(),
		BadSpread: g.skipBadSpread.Load(),
		Stale:     g.skipStale.Load(),
	}
}

// Run consumes ingress BookUpdate events, rebuilding the two directed
// edges for the affected pair, and ingress rebuild signals, recomputing
// every pair and emitting one FullRebuild event, until the update
// stream closes.
func (g *Graph) Run() {
	updates := g.ing.Updates()
	rebuilds := g.ing.Rebuilds()
	for {
		select {
		case upd, ok := <-updates:
			if !ok {
				close(g.changed)
				return
			}
			g.rebuildPair(upd.Pair, true)
		case _, ok := <-rebuilds:
			if !ok {
				rebuilds = nil
				continue
			}
			g.RebuildAll()
		}
	}
}

// RebuildAll recomputes every pair's edges, then emits a single
// FullRebuild event so the scanner re-evaluates all cycles (spec
// §4.2/§4.3: reconnect or depth/max-pairs change).
func (g *Graph) RebuildAll() {
	g.mu.RLock()
	symbols := make([]string, 0, len(g.pairMeta))
	for symbol := range g.pairMeta {
		symbols = append(symbols, symbol)
	}
	g.mu.RUnlock()

	for _, symbol := range symbols {
		g.rebuildPair(symbol, false)
	}
	select {
	case g.changed <- EdgeChanged{FullRebuild: true}:
	default:
		g.logger.Debug("edge-changed channel full, dropping full-rebuild event")
	}
}

func (g *Graph) rebuildPair(symbol string, emit bool) {
	meta, ok := g.pairMeta[symbol]
	if !ok {
		return
	}
	book := g.ing.GetBook(symbol)
	entry := g.pairs[symbol]
	if entry == nil || book == nil {
		g.skipNoBook.Add(1)
		return
	}

	version := g.version.Add(1)
	now := time.Now()

	fwd := g.buildEdge(symbol, meta.Quote, meta.Base, models.DirectionBuy, book, version, now)
	bwd := g.buildEdge(symbol, meta.Base, meta.Quote, models.DirectionSell, book, version, now)

	entry.forward.Store(fwd)
	entry.backward.Store(bwd)
	metrics.GraphRebuildLatency.Observe(time.Since(now).Seconds())

	if !emit {
		return
	}
	select {
	case g.changed <- EdgeChanged{Pair: symbol, From: meta.Quote, To: meta.Base}:
	default:
		g.logger.Debug("edge-changed channel full, coalesced", zap.String("pair", symbol))
	}
	select {
	case g.changed <- EdgeChanged{Pair: symbol, From: meta.Base, To: meta.Quote}:
	default:
	}
}

func (g *Graph) buildEdge(symbol string, from, to models.Currency, dir models.Direction, book *models.OrderBook, version uint64, now time.Time) *models.Edge {
	var levels []models.PriceLevel
	var best models.PriceLevel
	var haveBest bool

	if dir == models.DirectionBuy {
		levels = book.Asks
		best, haveBest = book.BestAsk()
	} else {
		levels = book.Bids
		best, haveBest = book.BestBid()
	}

	valid := book.Valid && haveBest
	if !haveBest {
		g.skipNoPrice.Add(1)
	}
	depth := models.DepthSum(levels, g.params.MinDepthLevels)
	if g.params.MinDepthLevels > 0 && len(levels) < g.params.MinDepthLevels {
		valid = false
		g.skipThinDepth.Add(1)
	}
	// Staleness at exactly the reject threshold already invalidates.
	if g.params.RejectStaleness > 0 && now.Sub(book.LastUpdate) >= g.params.RejectStaleness {
		valid = false
		g.skipStale.Add(1)
	}

	// RawMultiplier carries the fee-exclusive conversion; the fee is
	// folded into BestPriceMultiplier and reported separately as
	// percentage points so the scanner can keep gross and net distinct
	// (spec §3/§8).
	var multiplier, raw float64
	if haveBest && best.Price > 0 {
		fee := g.params.Fees.TakerFeePct
		if dir == models.DirectionBuy {
			raw = 1.0 / best.Price
			multiplier = 1.0 / (best.Price * (1 + fee))
		} else {
			raw = best.Price
			multiplier = best.Price * (1 - fee)
		}
	}
	feePct := g.params.Fees.TakerFeePct * 100

	if bid, okB := book.BestBid(); okB {
		if ask, okA := book.BestAsk(); okA && ask.Price > 0 {
			spreadPct := (ask.Price - bid.Price) / ask.Price
			if g.params.MaxSpreadPct > 0 && spreadPct > g.params.MaxSpreadPct {
				valid = false
				g.skipBadSpread.Add(1)
			}
		}
	}

	// The edge's freshness clock is the exchange's last book update, not
	// the rebuild time, so the scanner's staleness math measures feed lag
	// rather than graph lag.
	return models.NewEdge(symbol, from, to, dir, multiplier, raw, feePct, depth, book.LastUpdate, version, valid, levels)
}
