package repository

import (
	"context"
	"database/sql"
	"time"

	"arbitrage/internal/models"
)

// OpportunityRepository persists opportunity_history rows: every
// opportunity the scanner judged profitable, whether or not the guard
// let it through to execution (spec §6). This is the record that lets
// an operator later ask "how many profitable windows did we see but
// not act on, and why."
type OpportunityRepository struct {
	db *sql.DB
}

func NewOpportunityRepository(db *sql.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

// Record stores one scanner-to-guard handoff outcome. Shadow rows come
// from the dry-run executor: the window was simulated, never traded,
// and SimulatedPL carries the book-walk result.
type Record struct {
	Opportunity  models.Opportunity
	GuardVerdict string
	GuardReason  string
	TradeID      string // empty unless the guard passed and an execution started
	Shadow       bool
	SimulatedPL  float64
}

func (r *OpportunityRepository) Create(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO opportunity_history (
			cycle_id, gross_profit_pct, net_profit_pct, min_freshness_ms,
			computed_at, guard_verdict, guard_reason, trade_id, shadow, simulated_pl
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := r.db.ExecContext(ctx, query,
		rec.Opportunity.Cycle.ID, rec.Opportunity.GrossProfitPct, rec.Opportunity.NetProfitPct,
		rec.Opportunity.MinFreshnessMS, rec.Opportunity.ComputedAt,
		rec.GuardVerdict, rec.GuardReason, nullableString(rec.TradeID), rec.Shadow, rec.SimulatedPL,
	)
	return err
}

// DeleteOlderThan drops rows past the retention horizon, the periodic
// bounded cleanup spec §4.7 asks of the core (>= 30 days).
func (r *OpportunityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM opportunity_history WHERE computed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
