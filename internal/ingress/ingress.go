// Package ingress implements MarketDataIngress (spec §4.1): it owns the
// exchange adapter's public book feed, maintains one OrderBook per
// subscribed pair, detects sequence gaps and staleness, and emits
// BookUpdate events to downstream consumers (the conversion graph).
//
// The sharded-map-plus-FNV-1a-hash layout is carried forward from the
// teacher's internal/bot price-tracking shards; the bounded,
// coalesce-on-overflow event channel is this package's own addition,
// grounded on spec §5's explicit guidance for the ingress->graph queue.
package ingress

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/exchange"
	"arbitrage/internal/metrics"
	"arbitrage/internal/models"
)

const shardCount = 16

// BookUpdate notifies the graph that a pair's book changed.
type BookUpdate struct {
	Pair       string
	Sequence   uint64
	ReceivedAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	books map[string]*models.OrderBook
}

// Thresholds configures the three staleness bands spec §4.1 defines:
// warn (logged), buffer (edges held but not yet invalidated), reject
// (book marked invalid, pair excluded from the graph until refreshed).
type Thresholds struct {
	Warn   time.Duration
	Buffer time.Duration
	Reject time.Duration
}

// Ingress is MarketDataIngress.
type Ingress struct {
	adapter    exchange.Adapter
	thresholds Thresholds
	logger     *zap.Logger

	shards [shardCount]*shard

	updates  chan BookUpdate
	rebuilds chan struct{}

	mu           sync.Mutex
	depth        int
	maxPairs     int
	pairs        []string
	lastSeq      map[string]uint64
	reconfigured bool
	cancelStream context.CancelFunc
	cancelWatch  context.CancelFunc
}

// New constructs an Ingress with a bounded update channel (spec §5
// recommends 1024 with same-pair coalescing on overflow).
func New(adapter exchange.Adapter, depth int, thresholds Thresholds, logger *zap.Logger) *Ingress {
	ing := &Ingress{
		adapter:    adapter,
		depth:      depth,
		thresholds: thresholds,
		logger:     logger,
		updates:    make(chan BookUpdate, 1024),
		rebuilds:   make(chan struct{}, 1),
		lastSeq:    make(map[string]uint64),
	}
	for i := range ing.shards {
		ing.shards[i] = &shard{books: make(map[string]*models.OrderBook)}
	}
	return ing
}

func (ing *Ingress) shardFor(pair string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pair))
	return ing.shards[h.Sum32()%shardCount]
}

// Updates returns the channel the graph should range over.
func (ing *Ingress) Updates() <-chan BookUpdate { return ing.updates }

// Rebuilds signals that every book was invalidated at once (resubscribe
// after a depth/max-pairs change) and the graph should run a full
// rebuild rather than per-pair increments (spec §4.2 FullRebuild).
func (ing *Ingress) Rebuilds() <-chan struct{} { return ing.rebuilds }

// GetBook returns a defensive copy of the current book for pair, or
// nil if no snapshot has arrived yet (spec §3's OrderBook read contract).
func (ing *Ingress) GetBook(pair string) *models.OrderBook {
	s := ing.shardFor(pair)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[pair]
	if !ok {
		return nil
	}
	cp := *b
	cp.Bids = append([]models.PriceLevel(nil), b.Bids...)
	cp.Asks = append([]models.PriceLevel(nil), b.Asks...)
	return &cp
}

// Run subscribes to pairs and blocks applying updates until ctx is
// cancelled, at which point it stops the adapter feed and closes the
// updates channel. Also runs the staleness watchdog (spec §4.1
// Failures). A SetDepth/SetMaxPairs call mid-stream cancels the current
// subscription; Run then resubscribes with the new parameters and
// signals a full rebuild downstream.
func (ing *Ingress) Run(ctx context.Context, pairs []string) error {
	watchCtx, cancel := context.WithCancel(ctx)
	ing.cancelWatch = cancel
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ing.watchStaleness(watchCtx)
	}()

	// The watchdog sends on ing.updates, so it must be fully stopped
	// before the channel closes.
	defer func() {
		cancel()
		<-watchDone
		close(ing.updates)
	}()

	ing.mu.Lock()
	ing.pairs = append([]string(nil), pairs...)
	ing.mu.Unlock()

	for {
		streamCtx, cancelStream := context.WithCancel(ctx)
		ing.mu.Lock()
		ing.cancelStream = cancelStream
		subscribed := ing.subscribedPairsLocked()
		ing.mu.Unlock()

		err := ing.adapter.StreamBooks(streamCtx, subscribed, ing.apply)
		cancelStream()

		if ctx.Err() != nil {
			return err
		}
		ing.mu.Lock()
		reconfigured := ing.reconfigured
		ing.reconfigured = false
		ing.mu.Unlock()
		if !reconfigured {
			return err
		}
		ing.signalRebuild()
	}
}

func (ing *Ingress) subscribedPairsLocked() []string {
	out := append([]string(nil), ing.pairs...)
	if ing.maxPairs > 0 && len(out) > ing.maxPairs {
		out = out[:ing.maxPairs]
	}
	return out
}

// SetDepth hot-reconfigures the subscribed L2 depth (spec §4.1
// contract). Every book is invalidated and the public subscription is
// torn down for a resubscribe; the returned true tells the caller to
// expect a brief invalidation window. Values outside the supported set
// (10, 25, 100, 500, 1000) are rejected with false.
func (ing *Ingress) SetDepth(n int) bool {
	switch n {
	case 10, 25, 100, 500, 1000:
	default:
		return false
	}
	ing.mu.Lock()
	ing.depth = n
	cancel := ing.markReconfiguredLocked()
	ing.mu.Unlock()

	ing.invalidateAll()
	if cancel != nil {
		cancel()
	}
	return true
}

// SetMaxPairs hot-reconfigures how many of the bootstrap pairs stay
// subscribed (top-N by the catalog's ordering). Same invalidation
// window semantics as SetDepth.
func (ing *Ingress) SetMaxPairs(n int) bool {
	if n <= 0 {
		return false
	}
	ing.mu.Lock()
	ing.maxPairs = n
	cancel := ing.markReconfiguredLocked()
	ing.mu.Unlock()

	ing.invalidateAll()
	if cancel != nil {
		cancel()
	}
	return true
}

func (ing *Ingress) markReconfiguredLocked() context.CancelFunc {
	ing.reconfigured = true
	return ing.cancelStream
}

func (ing *Ingress) invalidateAll() {
	for _, s := range ing.shards {
		s.mu.Lock()
		for _, book := range s.books {
			book.Valid = false
		}
		s.mu.Unlock()
	}
}

func (ing *Ingress) signalRebuild() {
	select {
	case ing.rebuilds <- struct{}{}:
	default:
	}
}

func (ing *Ingress) apply(msg exchange.BookMessage) {
	s := ing.shardFor(msg.Pair)

	ing.mu.Lock()
	prevSeq := ing.lastSeq[msg.Pair]
	gap := !msg.Snapshot && prevSeq != 0 && msg.Sequence != 0 && msg.Sequence != prevSeq+1
	ing.lastSeq[msg.Pair] = msg.Sequence
	depth := ing.depth
	ing.mu.Unlock()

	s.mu.Lock()
	book, ok := s.books[msg.Pair]
	if !ok || msg.Snapshot {
		book = &models.OrderBook{Pair: msg.Pair}
		s.books[msg.Pair] = book
	}
	if gap {
		book.Valid = false
		metrics.SequenceGaps.WithLabelValues(msg.Pair).Inc()
		ing.logger.Warn("sequence gap detected, invalidating book",
			zap.String("pair", msg.Pair), zap.Uint64("expected", prevSeq+1), zap.Uint64("got", msg.Sequence))
	} else {
		applyLevels(book, msg)
		book.Sequence = msg.Sequence
		book.LastUpdate = msg.ReceivedAt
		book.Valid = !book.Crossed()
	}
	truncate(book, depth)
	s.mu.Unlock()

	metrics.IngressLatency.WithLabelValues(msg.Pair).Observe(time.Since(msg.ReceivedAt).Seconds())

	select {
	case ing.updates <- BookUpdate{Pair: msg.Pair, Sequence: msg.Sequence, ReceivedAt: msg.ReceivedAt}:
	default:
		// Overflow: coalesce by dropping this update. The graph always
		// re-derives edges from the latest GetBook() snapshot, so a
		// dropped notification for a pair that already has one queued
		// loses no information (spec §5 same-pair coalescing).
		metrics.BookUpdatesCoalesced.Inc()
		ing.logger.Debug("update channel full, coalesced", zap.String("pair", msg.Pair))
	}
}

func applyLevels(book *models.OrderBook, msg exchange.BookMessage) {
	if msg.Snapshot {
		book.Bids = toLevels(msg.Bids)
		book.Asks = toLevels(msg.Asks)
		sortBook(book)
		return
	}
	book.Bids = mergeLevels(book.Bids, msg.Bids, true)
	book.Asks = mergeLevels(book.Asks, msg.Asks, false)
}

func toLevels(in []exchange.LevelUpdate) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(in))
	for _, l := range in {
		if l.Size == 0 {
			continue
		}
		out = append(out, models.PriceLevel{Price: l.Price, Size: l.Size})
	}
	return out
}

// mergeLevels applies add/modify/delete updates against an existing
// side, descending is true for bids (sorted highest price first).
func mergeLevels(existing []models.PriceLevel, updates []exchange.LevelUpdate, descending bool) []models.PriceLevel {
	byPrice := make(map[float64]float64, len(existing))
	for _, l := range existing {
		byPrice[l.Price] = l.Size
	}
	for _, u := range updates {
		if u.Size == 0 {
			delete(byPrice, u.Price)
			continue
		}
		byPrice[u.Price] = u.Size
	}
	out := make([]models.PriceLevel, 0, len(byPrice))
	for p, s := range byPrice {
		out = append(out, models.PriceLevel{Price: p, Size: s})
	}
	sortLevels(out, descending)
	return out
}

func sortBook(book *models.OrderBook) {
	sortLevels(book.Bids, true)
	sortLevels(book.Asks, false)
}

func sortLevels(levels []models.PriceLevel, descending bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			swap := levels[j-1].Price < levels[j].Price
			if !descending {
				swap = levels[j-1].Price > levels[j].Price
			}
			if !swap {
				break
			}
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
}

func truncate(book *models.OrderBook, depth int) {
	if depth <= 0 {
		return
	}
	if len(book.Bids) > depth {
		book.Bids = book.Bids[:depth]
	}
	if len(book.Asks) > depth {
		book.Asks = book.Asks[:depth]
	}
}

// Stats is the book summary feeding the periodic health snapshot (spec
// §4.7): pair counts, average book age, and the average top-of-book
// spread and aggregate depth across pairs with a two-sided book.
type Stats struct {
	TotalPairs     int
	ValidPairs     int
	AvgFreshnessMS int64
	AvgSpreadPct   float64
	AvgDepth       float64
}

// Snapshot walks every book once and aggregates the health figures.
func (ing *Ingress) Snapshot() Stats {
	now := time.Now()
	var st Stats
	var ageSum int64
	var spreadSum, depthSum float64
	var quoted int
	for _, s := range ing.shards {
		s.mu.RLock()
		for _, book := range s.books {
			st.TotalPairs++
			if book.Valid {
				st.ValidPairs++
			}
			ageSum += now.Sub(book.LastUpdate).Milliseconds()
			bid, okB := book.BestBid()
			ask, okA := book.BestAsk()
			if okB && okA && ask.Price > 0 {
				quoted++
				spreadSum += (ask.Price - bid.Price) / ask.Price * 100
				depthSum += models.DepthSum(book.Bids, len(book.Bids)) + models.DepthSum(book.Asks, len(book.Asks))
			}
		}
		s.mu.RUnlock()
	}
	if st.TotalPairs > 0 {
		st.AvgFreshnessMS = ageSum / int64(st.TotalPairs)
	}
	if quoted > 0 {
		st.AvgSpreadPct = spreadSum / float64(quoted)
		st.AvgDepth = depthSum / float64(quoted)
	}
	return st
}

// watchStaleness periodically scans every book and marks it invalid once
// it exceeds the reject threshold (spec §4.1 Failures: "stale books are
// excluded from the graph, not deleted").
func (ing *Ingress) watchStaleness(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var rejected []BookUpdate
			for _, s := range ing.shards {
				s.mu.Lock()
				for pair, book := range s.books {
					age := now.Sub(book.LastUpdate)
					if age >= ing.thresholds.Reject {
						if book.Valid {
							ing.logger.Warn("book stale beyond reject threshold", zap.String("pair", pair), zap.Duration("age", age))
							// The invalidation must flow downstream so the
							// graph rebuilds the pair's edges as invalid;
							// a silently flipped flag would leave stale
							// edges marked valid until the next message.
							rejected = append(rejected, BookUpdate{Pair: pair, Sequence: book.Sequence, ReceivedAt: now})
						}
						book.Valid = false
					} else if age >= ing.thresholds.Warn {
						ing.logger.Debug("book aging", zap.String("pair", pair), zap.Duration("age", age))
					}
				}
				s.mu.Unlock()
			}
			for _, upd := range rejected {
				select {
				case ing.updates <- upd:
				default:
				}
			}
		}
	}
}
