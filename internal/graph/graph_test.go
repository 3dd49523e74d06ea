package graph

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/exchange"
	"arbitrage/internal/ingress"
	"arbitrage/internal/models"
)

type fakeAdapter struct {
	stream func(ctx context.Context, pairs []string, onUpdate func(exchange.BookMessage)) error
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) ListPairs(ctx context.Context, maxPairs int) ([]exchange.PairInfo, error) {
	return nil, nil
}
func (f *fakeAdapter) StreamBooks(ctx context.Context, pairs []string, onUpdate func(exchange.BookMessage)) error {
	return f.stream(ctx, pairs, onUpdate)
}
func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	return "", nil
}
func (f *fakeAdapter) QueryOrder(ctx context.Context, txID string) (exchange.OrderStatus, error) {
	return exchange.OrderStatus{}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, txID string) error { return nil }
func (f *fakeAdapter) Balance(ctx context.Context) (map[string]float64, error) {
	return nil, nil
}
func (f *fakeAdapter) Fees(ctx context.Context, pair string) (float64, float64, error) {
	return 0, 0, nil
}
func (f *fakeAdapter) Ticker(ctx context.Context, pair string) (float64, float64, error) {
	return 0, 0, nil
}
func (f *fakeAdapter) Ping(ctx context.Context) error { return nil }
func (f *fakeAdapter) Close() error                   { return nil }

// buildGraph drives one snapshot through a real Ingress then a Graph,
// draining both synchronously (the fake adapter's StreamBooks returns
// immediately, so Run() closes its output channel right away and the
// downstream Run() drains the buffered backlog without blocking).
func buildGraph(t *testing.T, params Params, pairMeta map[string]models.Pair, msgs ...exchange.BookMessage) (*ingress.Ingress, *Graph) {
	t.Helper()
	ing := ingress.New(&fakeAdapter{
		stream: func(ctx context.Context, pairs []string, onUpdate func(exchange.BookMessage)) error {
			for _, m := range msgs {
				onUpdate(m)
			}
			return nil
		},
	}, 10, ingress.Thresholds{Warn: 500 * time.Millisecond, Buffer: time.Second, Reject: 2 * time.Second}, zap.NewNop())

	pairs := make([]string, 0, len(pairMeta))
	for symbol := range pairMeta {
		pairs = append(pairs, symbol)
	}
	if err := ing.Run(context.Background(), pairs); err != nil {
		t.Fatalf("ingress Run: %v", err)
	}

	g := New(ing, params, pairMeta, zap.NewNop())
	g.Run()
	return ing, g
}

func xbtusdMeta() map[string]models.Pair {
	return map[string]models.Pair{
		"XBTUSD": {Symbol: "XBTUSD", Base: "BTC", Quote: "USD"},
	}
}

func TestEdgesFromBuyAndSell(t *testing.T) {
	params := Params{MinDepthLevels: 1, MaxSpreadPct: 0.5, Fees: FeeSchedule{TakerFeePct: 0}}
	_, g := buildGraph(t, params, xbtusdMeta(), exchange.BookMessage{
		Pair: "XBTUSD", Snapshot: true, Sequence: 1,
		Bids: []exchange.LevelUpdate{{Price: 30000, Size: 1}},
		Asks: []exchange.LevelUpdate{{Price: 30010, Size: 1}},
		ReceivedAt: time.Now(),
	})

	usdEdges := g.EdgesFrom("USD") // buy BTC
	if len(usdEdges) != 1 {
		t.Fatalf("expected 1 edge from USD, got %d", len(usdEdges))
	}
	if usdEdges[0].To != "BTC" || usdEdges[0].Direction != models.DirectionBuy {
		t.Errorf("USD edge = %+v, want To=BTC Direction=buy", usdEdges[0])
	}
	wantBuyMultiplier := 1.0 / 30010
	if d := usdEdges[0].BestPriceMultiplier - wantBuyMultiplier; d > 1e-12 || d < -1e-12 {
		t.Errorf("buy multiplier = %v, want %v", usdEdges[0].BestPriceMultiplier, wantBuyMultiplier)
	}

	btcEdges := g.EdgesFrom("BTC") // sell BTC
	if len(btcEdges) != 1 {
		t.Fatalf("expected 1 edge from BTC, got %d", len(btcEdges))
	}
	if btcEdges[0].To != "USD" || btcEdges[0].Direction != models.DirectionSell {
		t.Errorf("BTC edge = %+v, want To=USD Direction=sell", btcEdges[0])
	}
	if btcEdges[0].BestPriceMultiplier != 30000 {
		t.Errorf("sell multiplier = %v, want 30000 (fee-free)", btcEdges[0].BestPriceMultiplier)
	}
}

func TestFeeAdjustedMultiplier(t *testing.T) {
	params := Params{MinDepthLevels: 1, MaxSpreadPct: 0.5, Fees: FeeSchedule{TakerFeePct: 0.0026}}
	_, g := buildGraph(t, params, xbtusdMeta(), exchange.BookMessage{
		Pair: "XBTUSD", Snapshot: true, Sequence: 1,
		Bids: []exchange.LevelUpdate{{Price: 30000, Size: 1}},
		Asks: []exchange.LevelUpdate{{Price: 30010, Size: 1}},
		ReceivedAt: time.Now(),
	})

	sellEdge := g.EdgesFrom("BTC")[0]
	wantSell := 30000 * (1 - 0.0026)
	if d := sellEdge.BestPriceMultiplier - wantSell; d > 1e-9 || d < -1e-9 {
		t.Errorf("fee-adjusted sell multiplier = %v, want %v", sellEdge.BestPriceMultiplier, wantSell)
	}
	// The raw multiplier stays fee-exclusive so the scanner can keep
	// gross and net profit distinct.
	if sellEdge.RawMultiplier != 30000 {
		t.Errorf("raw sell multiplier = %v, want 30000", sellEdge.RawMultiplier)
	}
	if d := sellEdge.FeePct - 0.26; d > 1e-12 || d < -1e-12 {
		t.Errorf("edge fee pct = %v, want 0.26", sellEdge.FeePct)
	}
}

func TestEdgeInvalidBelowMinDepth(t *testing.T) {
	params := Params{MinDepthLevels: 3, MaxSpreadPct: 0.5, Fees: FeeSchedule{}}
	_, g := buildGraph(t, params, xbtusdMeta(), exchange.BookMessage{
		Pair: "XBTUSD", Snapshot: true, Sequence: 1,
		Bids: []exchange.LevelUpdate{{Price: 30000, Size: 1}}, // only 1 level, below min 3
		Asks: []exchange.LevelUpdate{{Price: 30010, Size: 1}},
		ReceivedAt: time.Now(),
	})

	edges := g.EdgesFrom("USD")
	if len(edges) != 0 {
		t.Error("edges below the minimum depth must be excluded from EdgesFrom")
	}
}

func TestEdgeInvalidOnWideSpread(t *testing.T) {
	params := Params{MinDepthLevels: 1, MaxSpreadPct: 0.001, Fees: FeeSchedule{}} // 0.1% max
	_, g := buildGraph(t, params, xbtusdMeta(), exchange.BookMessage{
		Pair: "XBTUSD", Snapshot: true, Sequence: 1,
		Bids: []exchange.LevelUpdate{{Price: 29000, Size: 1}}, // spread ~3.4%
		Asks: []exchange.LevelUpdate{{Price: 30010, Size: 1}},
		ReceivedAt: time.Now(),
	})

	if len(g.EdgesFrom("USD")) != 0 {
		t.Error("edges with spread exceeding max_spread_pct must be invalid")
	}
}

func TestEdgeInvalidAtRejectStalenessBoundary(t *testing.T) {
	// A book whose age is exactly the reject threshold is already
	// invalid (spec §8 boundary behavior).
	params := Params{MinDepthLevels: 1, MaxSpreadPct: 0.5, RejectStaleness: 2 * time.Second}
	_, g := buildGraph(t, params, xbtusdMeta(), exchange.BookMessage{
		Pair: "XBTUSD", Snapshot: true, Sequence: 1,
		Bids: []exchange.LevelUpdate{{Price: 30000, Size: 1}},
		Asks: []exchange.LevelUpdate{{Price: 30010, Size: 1}},
		ReceivedAt: time.Now().Add(-2 * time.Second),
	})

	if len(g.EdgesFrom("USD")) != 0 {
		t.Error("edges rebuilt from a book older than reject_ms must be invalid")
	}
}

func TestEdgesFromUnknownCurrency(t *testing.T) {
	params := Params{MinDepthLevels: 1, MaxSpreadPct: 0.5}
	_, g := buildGraph(t, params, xbtusdMeta(), exchange.BookMessage{
		Pair: "XBTUSD", Snapshot: true, Sequence: 1,
		Bids: []exchange.LevelUpdate{{Price: 30000, Size: 1}},
		Asks: []exchange.LevelUpdate{{Price: 30010, Size: 1}},
		ReceivedAt: time.Now(),
	})
	if edges := g.EdgesFrom("EUR"); len(edges) != 0 {
		t.Errorf("expected no edges for an unrelated currency, got %d", len(edges))
	}
}

func TestRebuildAllEmitsFullRebuildEvent(t *testing.T) {
	// The graph's event loop is deliberately not started here: RebuildAll
	// reads the ingress's books directly, and keeping g.changed open lets
	// the test observe exactly what it emits.
	ing := ingress.New(&fakeAdapter{
		stream: func(ctx context.Context, pairs []string, onUpdate func(exchange.BookMessage)) error {
			onUpdate(exchange.BookMessage{
				Pair: "XBTUSD", Snapshot: true, Sequence: 1,
				Bids: []exchange.LevelUpdate{{Price: 30000, Size: 1}},
				Asks: []exchange.LevelUpdate{{Price: 30010, Size: 1}},
				ReceivedAt: time.Now(),
			})
			return nil
		},
	}, 10, ingress.Thresholds{Warn: 500 * time.Millisecond, Buffer: time.Second, Reject: 2 * time.Second}, zap.NewNop())
	if err := ing.Run(context.Background(), []string{"XBTUSD"}); err != nil {
		t.Fatalf("ingress Run: %v", err)
	}

	g := New(ing, Params{MinDepthLevels: 1, MaxSpreadPct: 0.5}, xbtusdMeta(), zap.NewNop())

	g.RebuildAll()

	select {
	case ev := <-g.changed:
		if !ev.FullRebuild {
			t.Errorf("expected a FullRebuild event, got %+v", ev)
		}
	default:
		t.Fatal("expected an event after RebuildAll")
	}
	if len(g.EdgesFrom("USD")) != 1 {
		t.Error("edges should be readable after a full rebuild")
	}
}
