package models

import "testing"

func TestBestBidAsk(t *testing.T) {
	b := &OrderBook{
		Bids: []PriceLevel{{Price: 30000, Size: 1}, {Price: 29900, Size: 2}},
		Asks: []PriceLevel{{Price: 30010, Size: 1}, {Price: 30020, Size: 2}},
	}
	bid, ok := b.BestBid()
	if !ok || bid.Price != 30000 {
		t.Errorf("BestBid = %v, %v", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask.Price != 30010 {
		t.Errorf("BestAsk = %v, %v", ask, ok)
	}
}

func TestBestBidAskEmpty(t *testing.T) {
	b := &OrderBook{}
	if _, ok := b.BestBid(); ok {
		t.Error("expected no best bid on empty book")
	}
	if _, ok := b.BestAsk(); ok {
		t.Error("expected no best ask on empty book")
	}
}

func TestCrossedInvariant(t *testing.T) {
	valid := &OrderBook{
		Bids: []PriceLevel{{Price: 30000, Size: 1}},
		Asks: []PriceLevel{{Price: 30010, Size: 1}},
	}
	if valid.Crossed() {
		t.Error("best_bid < best_ask must not be reported crossed")
	}

	crossed := &OrderBook{
		Bids: []PriceLevel{{Price: 30020, Size: 1}},
		Asks: []PriceLevel{{Price: 30010, Size: 1}},
	}
	if !crossed.Crossed() {
		t.Error("best_bid >= best_ask must be reported crossed")
	}
}

func TestDepthSum(t *testing.T) {
	levels := []PriceLevel{{Size: 1}, {Size: 2}, {Size: 3}, {Size: 4}}
	if got := DepthSum(levels, 3); got != 6 {
		t.Errorf("DepthSum(top 3) = %v, want 6", got)
	}
	if got := DepthSum(levels, 10); got != 10 {
		t.Errorf("DepthSum(top 10, only 4 exist) = %v, want 10", got)
	}
	if got := DepthSum(nil, 3); got != 0 {
		t.Errorf("DepthSum(nil) = %v, want 0", got)
	}
}
