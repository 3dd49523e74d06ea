package trade

import (
	"time"

	"github.com/google/uuid"

	"arbitrage/internal/models"
)

// ShadowExecutor simulates a cycle's execution against the live graph's
// effective-price walk without placing any real orders — a supplemental
// feature grounded on original_source/backend/app/core/shadow_executor.py,
// used to validate the pipeline end to end before IsEnabled is flipped on
// for a given deployment (SPEC_FULL.md §4.8).
type ShadowExecutor struct {
	edgesFrom func(models.Currency) []*models.Edge
}

func NewShadowExecutor(edgesFrom func(models.Currency) []*models.Edge) *ShadowExecutor {
	return &ShadowExecutor{edgesFrom: edgesFrom}
}

// Simulate walks every leg's order book via Edge.EffectivePrice instead
// of issuing PlaceOrder. The Trade is COMPLETED when every leg fills in
// full, PARTIAL when some leg's book depth cannot cover the carried
// amount (the walk continues with what that leg realized), and FAILED at
// the first leg that has no valid edge.
func (s *ShadowExecutor) Simulate(opp models.Opportunity, amountIn float64) *models.Trade {
	t := &models.Trade{
		ID:            "shadow-" + uuid.NewString(),
		Cycle:         opp.Cycle,
		AmountIn:      amountIn,
		InputCurrency: opp.Cycle.Currencies[0],
		Status:        models.TradeCompleted,
		StartedAt:     time.Now(),
	}

	current := amountIn
	for i := 0; i < len(opp.Cycle.Currencies)-1; i++ {
		from, to := opp.Cycle.Currencies[i], opp.Cycle.Currencies[i+1]
		edge := findLegEdge(s.edgesFrom(from), to)
		fill := models.Fill{LegIndex: i, PlacedAt: time.Now()}
		if edge == nil || !edge.Valid {
			fill.State = models.LegFatal
			fill.ErrorMessage = "no valid edge for shadow simulation"
			t.Fills = append(t.Fills, fill)
			t.Status = models.TradeFailed
			t.FailureReason = fill.ErrorMessage
			break
		}
		fill.Pair = edge.Pair
		fill.Side = edge.Direction
		sim := edge.EffectivePrice(current)
		fill.ExecutedPrice = sim.AvgPrice
		fill.ExecutedVolume = sim.RealizedOutput
		fill.State = models.LegFilled
		now := time.Now()
		fill.FilledAt = &now
		t.Fills = append(t.Fills, fill)
		if !sim.FullyFillable {
			t.Status = models.TradePartial
			t.FailureReason = "insufficient depth to fully fill leg " + edge.Pair
		}
		current = sim.RealizedOutput
	}

	t.AmountOut = current
	t.ProfitLoss = current - amountIn
	if amountIn > 0 {
		t.ProfitLossPct = t.ProfitLoss / amountIn * 100
	}
	now := time.Now()
	t.TerminalAt = &now
	return t
}

func findLegEdge(edges []*models.Edge, to models.Currency) *models.Edge {
	for _, e := range edges {
		if e.To == to {
			return e
		}
	}
	return nil
}
