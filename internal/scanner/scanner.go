// Package scanner implements PathScanner (spec §4.3): at startup it
// pre-materializes every length-3/4 cycle rooted at a configured base
// currency, builds an inverted index from currency to cycle ids so a
// single edge change re-evaluates only the cycles that use it, and
// maintains a ranked, bounded cache of currently profitable
// Opportunities.
//
// The inverted-index-plus-incremental-recompute shape is grounded on
// original_source/backend/app/core/live_trading/scanner.py, which has no
// direct teacher analog; the ranked-cache-with-atomic-swap technique
// reuses the same RCU idiom internal/graph applies to edges.
package scanner

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/graph"
	"arbitrage/internal/metrics"
	"arbitrage/internal/models"
)

const maxCachedOpportunities = 1000

// Params configures cycle discovery and staleness.
type Params struct {
	Bases        []models.Currency
	MinLegs      int // 3
	MaxLegs      int // 4
	StaleAfter   time.Duration
	MinProfitPct float64

	// BufferMS is the ingress's buffer_ms staleness threshold (spec
	// §4.1/§4.3): when a cycle's minimum edge freshness exceeds it, the
	// evaluation applies a conservative latency penalty rather than
	// trusting the stale quote at face value.
	BufferMS int64
	// LatencyPenaltyPctPerLeg is subtracted from net profit, once per
	// leg, whenever BufferMS is exceeded (spec §4.3, default 0.1%/leg).
	LatencyPenaltyPctPerLeg float64
}

// Ready notifies the guard that at least one cached opportunity crossed
// the profitability threshold.
type Ready struct {
	Opportunity models.Opportunity
}

// Scanner is PathScanner.
type Scanner struct {
	g      *graph.Graph
	params Params
	logger *zap.Logger

	cycles      []models.Cycle
	invertedIdx map[models.Currency][]int // currency -> indices into cycles

	cache       atomic.Pointer[[]models.Opportunity]
	cacheSwapAt atomic.Int64 // unix ms of the last cache swap

	mu         sync.Mutex
	profitable map[string]bool // cycle id -> was profitable at last evaluation
	ready      chan Ready
}

// New builds a Scanner and materializes all cycles reachable from
// params.Bases within [MinLegs, MaxLegs] hops, using the graph's edge
// index as the adjacency source (spec §4.3 Startup).
func New(g *graph.Graph, params Params, logger *zap.Logger) *Scanner {
	s := &Scanner{
		g:           g,
		params:      params,
		logger:      logger,
		invertedIdx: make(map[models.Currency][]int),
		profitable:  make(map[string]bool),
		ready:       make(chan Ready, 256),
	}
	empty := []models.Opportunity{}
	s.cache.Store(&empty)
	s.cacheSwapAt.Store(time.Now().UnixMilli())
	s.materialize()
	return s
}

func (s *Scanner) materialize() {
	seen := make(map[string]bool)
	var cycles []models.Cycle

	var dfs func(start, current models.Currency, path []models.Currency, depth int)
	dfs = func(start, current models.Currency, path []models.Currency, depth int) {
		// depth counts the edges already walked; a closing edge from
		// current adds one more leg.
		if depth+1 >= s.params.MinLegs {
			for _, e := range s.g.EdgesFrom(current) {
				if e.To == start {
					full := append(append([]models.Currency(nil), path...), start)
					c := models.NewCycle(full...)
					if !seen[c.ID] {
						seen[c.ID] = true
						cycles = append(cycles, c)
					}
				}
			}
		}
		if depth+1 >= s.params.MaxLegs {
			return
		}
		for _, e := range s.g.EdgesFrom(current) {
			if e.To == start && depth+1 >= s.params.MinLegs {
				continue // already captured as a closing edge above
			}
			if containsCurrency(path, e.To) {
				continue
			}
			dfs(start, e.To, append(path, e.To), depth+1)
		}
	}

	for _, base := range s.params.Bases {
		dfs(base, base, []models.Currency{base}, 0)
	}

	s.cycles = cycles
	idx := make(map[models.Currency][]int, len(cycles))
	for i, c := range cycles {
		for _, cur := range c.Currencies {
			idx[cur] = append(idx[cur], i)
		}
	}
	s.invertedIdx = idx
}

func containsCurrency(path []models.Currency, c models.Currency) bool {
	for _, p := range path {
		if p == c {
			return true
		}
	}
	return false
}

// Ready returns the channel the guard should range over.
func (s *Scanner) Ready() <-chan Ready { return s.ready }

// Run consumes graph EdgeChanged events, re-evaluating only the cycles
// touching the changed currency — or every cycle when the event is a
// FullRebuild after a reconnect or depth/max-pairs change (spec §4.3
// Hot path).
func (s *Scanner) Run() {
	for ev := range s.g.Changed() {
		if ev.FullRebuild {
			s.reevaluateAll()
		} else {
			s.reevaluate(ev.From)
		}
	}
	close(s.ready)
}

func (s *Scanner) reevaluate(c models.Currency) {
	s.reevaluateIndices(s.invertedIdx[c])
}

func (s *Scanner) reevaluateAll() {
	indices := make([]int, len(s.cycles))
	for i := range indices {
		indices[i] = i
	}
	s.reevaluateIndices(indices)
}

func (s *Scanner) reevaluateIndices(indices []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(indices) == 0 {
		return
	}

	now := time.Now()
	prev := *s.cache.Load()
	byID := make(map[string]models.Opportunity, len(prev))
	for _, o := range prev {
		byID[o.Cycle.ID] = o
	}

	var newlyProfitable []models.Opportunity
	for _, idx := range indices {
		cycle := s.cycles[idx]
		opp, ok := s.evaluate(cycle, now)
		if !ok {
			delete(byID, cycle.ID)
			s.profitable[cycle.ID] = false
			continue
		}
		byID[cycle.ID] = opp

		isProfitable := opp.IsProfitable(s.params.MinProfitPct)
		wasProfitable := s.profitable[cycle.ID]
		s.profitable[cycle.ID] = isProfitable

		// Only the unprofitable->profitable transition raises an event,
		// and only when every leg is still within the staleness buffer
		// (spec §4.3 Events out) — a re-confirmation of an already-known
		// opportunity is not news, and a stale one is not actionable.
		fresh := s.params.BufferMS <= 0 || opp.MinFreshnessMS <= s.params.BufferMS
		if isProfitable && !wasProfitable && fresh {
			newlyProfitable = append(newlyProfitable, opp)
		}
	}

	out := make([]models.Opportunity, 0, len(byID))
	for _, o := range byID {
		if o.AgeMS(now) <= s.params.StaleAfter.Milliseconds() {
			out = append(out, o)
		}
	}
	rankOpportunities(out)
	if len(out) > maxCachedOpportunities {
		out = out[:maxCachedOpportunities]
	}
	s.cache.Store(&out)
	s.cacheSwapAt.Store(now.UnixMilli())
	metrics.CachedOpportunityCount.Set(float64(len(out)))
	metrics.ScanLatency.Observe(time.Since(now).Seconds())

	for _, opp := range newlyProfitable {
		select {
		case s.ready <- Ready{Opportunity: opp}:
		default:
			s.logger.Debug("ready channel full, dropping notification",
				zap.String("cycle", opp.Cycle.ID))
		}
	}
}

// evaluate walks every edge of the cycle, returning (opportunity,
// false) if any edge is currently invalid. Gross profit is the product
// of the fee-exclusive raw multipliers; net subtracts the cumulative
// per-leg fee and, when the slowest leg exceeds the staleness buffer,
// the per-leg latency penalty — spec §8's invariant
// net = gross - legs×fee_rate - latency_penalty×(legs if stale).
func (s *Scanner) evaluate(cycle models.Cycle, now time.Time) (models.Opportunity, bool) {
	rawProduct := 1.0
	feePct := 0.0
	var minFreshness int64 = -1

	for i := 0; i < len(cycle.Currencies)-1; i++ {
		from, to := cycle.Currencies[i], cycle.Currencies[i+1]
		edge := findEdge(s.g.EdgesFrom(from), to)
		if edge == nil || !edge.Valid {
			return models.Opportunity{}, false
		}
		rawProduct *= edge.RawMultiplier
		feePct += edge.FeePct
		fresh := edge.FreshnessMS(now)
		if minFreshness == -1 || fresh > minFreshness {
			minFreshness = fresh
		}
	}

	grossPct := (rawProduct - 1.0) * 100
	netPct := grossPct - feePct
	legs := cycle.Legs()
	if s.params.BufferMS > 0 && minFreshness > s.params.BufferMS {
		netPct -= s.params.LatencyPenaltyPctPerLeg * float64(legs)
	}
	return models.Opportunity{
		Cycle:          cycle,
		GrossProfitPct: grossPct,
		FeePct:         feePct,
		NetProfitPct:   netPct,
		MinFreshnessMS: minFreshness,
		ComputedAt:     now,
	}, true
}

func findEdge(edges []*models.Edge, to models.Currency) *models.Edge {
	for _, e := range edges {
		if e.To == to {
			return e
		}
	}
	return nil
}

// CachedOpportunities returns the current ranked snapshot plus its age
// in milliseconds — the cached_opportunities() -> (list, age_ms)
// contract of spec §4.3. An age beyond 5s tells the caller the ingress
// has stalled and the list should not drive execution.
func (s *Scanner) CachedOpportunities() ([]models.Opportunity, int64) {
	p := s.cache.Load()
	out := make([]models.Opportunity, len(*p))
	copy(out, *p)
	age := time.Now().UnixMilli() - s.cacheSwapAt.Load()
	return out, age
}

// rankOpportunities orders by net_profit_pct desc, leg count asc,
// freshest min-edge timestamp, then lexicographic cycle id (spec §4.3
// tie-break rule).
func rankOpportunities(opps []models.Opportunity) {
	sort.Slice(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.NetProfitPct != b.NetProfitPct {
			return a.NetProfitPct > b.NetProfitPct
		}
		if la, lb := a.Cycle.Legs(), b.Cycle.Legs(); la != lb {
			return la < lb
		}
		if a.MinFreshnessMS != b.MinFreshnessMS {
			return a.MinFreshnessMS < b.MinFreshnessMS
		}
		return a.Cycle.ID < b.Cycle.ID
	})
}
