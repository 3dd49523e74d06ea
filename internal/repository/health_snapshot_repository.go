package repository

import (
	"context"
	"database/sql"
	"time"

	"arbitrage/internal/models"
)

// HealthSnapshot is a periodic point-in-time capture of the breaker's
// aggregates and pipeline liveness, persisted for operator diagnosis
// after the fact (spec §4.7/§6 health_snapshot): pair counts, average
// freshness/spread/depth, the edge-skip reason counters, and the count
// of opportunities the guard turned away.
type HealthSnapshot struct {
	CapturedAt          time.Time
	Breaker             models.BreakerState
	ActivePairs         int
	ValidPairs          int
	CachedOpportunities int
	IngressLagMS        int64
	AvgSpreadPct        float64
	AvgDepth            float64

	SkipNoBook    int64
	SkipNoPrice   int64
	SkipThinDepth int64
	SkipBadSpread int64
	SkipStale     int64

	RejectedOpportunities int64
}

// HealthSnapshotRepository persists HealthSnapshot rows.
type HealthSnapshotRepository struct {
	db *sql.DB
}

func NewHealthSnapshotRepository(db *sql.DB) *HealthSnapshotRepository {
	return &HealthSnapshotRepository{db: db}
}

func (r *HealthSnapshotRepository) Create(ctx context.Context, s HealthSnapshot) error {
	query := `
		INSERT INTO health_snapshot (
			captured_at, daily_profit, daily_loss, total_profit, total_loss,
			daily_trades, total_trades, is_broken, broken_reason,
			active_pairs, valid_pairs, cached_opportunities, ingress_lag_ms,
			avg_spread_pct, avg_depth,
			skip_no_book, skip_no_price, skip_thin_depth, skip_bad_spread, skip_stale,
			rejected_opportunities
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`

	_, err := r.db.ExecContext(ctx, query,
		s.CapturedAt, s.Breaker.DailyProfit, s.Breaker.DailyLoss, s.Breaker.TotalProfit, s.Breaker.TotalLoss,
		s.Breaker.DailyTrades, s.Breaker.TotalTrades, s.Breaker.IsBroken, s.Breaker.BrokenReason,
		s.ActivePairs, s.ValidPairs, s.CachedOpportunities, s.IngressLagMS,
		s.AvgSpreadPct, s.AvgDepth,
		s.SkipNoBook, s.SkipNoPrice, s.SkipThinDepth, s.SkipBadSpread, s.SkipStale,
		s.RejectedOpportunities,
	)
	return err
}

// DeleteOlderThan drops snapshots past the retention horizon (spec
// §4.7's periodic bounded cleanup).
func (r *HealthSnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM health_snapshot WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Latest returns the most recent snapshot, used to seed a status page or
// a restart's pre-recovery diagnostic log line.
func (r *HealthSnapshotRepository) Latest(ctx context.Context) (*HealthSnapshot, error) {
	query := `
		SELECT captured_at, daily_profit, daily_loss, total_profit, total_loss,
		       daily_trades, total_trades, is_broken, broken_reason,
		       active_pairs, valid_pairs, cached_opportunities, ingress_lag_ms,
		       avg_spread_pct, avg_depth,
		       skip_no_book, skip_no_price, skip_thin_depth, skip_bad_spread, skip_stale,
		       rejected_opportunities
		FROM health_snapshot ORDER BY captured_at DESC LIMIT 1`

	var s HealthSnapshot
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.CapturedAt, &s.Breaker.DailyProfit, &s.Breaker.DailyLoss, &s.Breaker.TotalProfit, &s.Breaker.TotalLoss,
		&s.Breaker.DailyTrades, &s.Breaker.TotalTrades, &s.Breaker.IsBroken, &s.Breaker.BrokenReason,
		&s.ActivePairs, &s.ValidPairs, &s.CachedOpportunities, &s.IngressLagMS,
		&s.AvgSpreadPct, &s.AvgDepth,
		&s.SkipNoBook, &s.SkipNoPrice, &s.SkipThinDepth, &s.SkipBadSpread, &s.SkipStale,
		&s.RejectedOpportunities,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
