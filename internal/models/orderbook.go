package models

import "time"

// PriceLevel is one (price, size) rung of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook holds the sorted bid/ask levels for one pair, the teacher's
// depth convention (bids descending, asks ascending) carried forward from
// internal/exchange.OrderBook, generalized with the sequence/staleness
// fields spec §3 requires.
type OrderBook struct {
	Pair       string
	Bids       []PriceLevel // descending by price
	Asks       []PriceLevel // ascending by price
	Sequence   uint64       // monotonically increasing per channel
	LastUpdate time.Time
	Valid      bool // false once sequence gap/staleness invalidates the book
}

// BestBid returns the top bid level, or zero value if the book is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or zero value if the book is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// DepthSum sums size across the top n levels of the given side.
func DepthSum(levels []PriceLevel, n int) float64 {
	sum := 0.0
	for i := 0; i < n && i < len(levels); i++ {
		sum += levels[i].Size
	}
	return sum
}

// Crossed reports the invariant violation best_bid >= best_ask.
func (b *OrderBook) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return false
	}
	return bid.Price >= ask.Price
}
