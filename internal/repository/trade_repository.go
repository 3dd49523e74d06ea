// Package repository is the audit sink (spec §6): tables for trade,
// health_snapshot, opportunity_history and notification records. Trade
// rows are upserted by id as a trade progresses; the other tables only
// take inserts and retention deletes. It is the
// system's only persistence surface — there is no pair/exchange/settings
// CRUD here, since the operator UI and control-plane database that the
// teacher's repository package served are explicitly out of this
// engine's scope.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"arbitrage/internal/models"
)

// ErrTradeNotFound mirrors the teacher's sentinel-error convention for
// single-row lookups.
var ErrTradeNotFound = errors.New("trade not found")

// TradeRepository persists Trade records (spec §3/§6).
type TradeRepository struct {
	db *sql.DB
}

func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Save upserts a trade by ID: a fresh EXECUTING trade is inserted, and
// subsequent calls (on fill progress, or at terminal state) update the
// same row — the executor calls Save once per state transition so a
// crash mid-cycle still leaves a usable row for internal/recovery.
func (r *TradeRepository) Save(ctx context.Context, t *models.Trade) error {
	fillsJSON, err := json.Marshal(t.Fills)
	if err != nil {
		return err
	}
	var heldJSON []byte
	if t.Held != nil {
		heldJSON, err = json.Marshal(t.Held)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO trade (
			id, cycle_id, currencies, amount_in, input_currency, status,
			fills, amount_out, profit_loss, profit_loss_pct, held_position,
			estimated_pl, started_at, terminal_at, failure_reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			fills = EXCLUDED.fills,
			amount_out = EXCLUDED.amount_out,
			profit_loss = EXCLUDED.profit_loss,
			profit_loss_pct = EXCLUDED.profit_loss_pct,
			held_position = EXCLUDED.held_position,
			estimated_pl = EXCLUDED.estimated_pl,
			terminal_at = EXCLUDED.terminal_at,
			failure_reason = EXCLUDED.failure_reason`

	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.Cycle.ID, currenciesToStrings(t.Cycle.Currencies), t.AmountIn, string(t.InputCurrency), string(t.Status),
		fillsJSON, t.AmountOut, t.ProfitLoss, t.ProfitLossPct, nullableJSON(heldJSON),
		t.EstimatedPL, t.StartedAt, t.TerminalAt, t.FailureReason,
	)
	return err
}

// GetByID returns one trade.
func (r *TradeRepository) GetByID(ctx context.Context, id string) (*models.Trade, error) {
	query := `
		SELECT id, cycle_id, amount_in, input_currency, status, fills,
		       amount_out, profit_loss, profit_loss_pct, held_position,
		       estimated_pl, started_at, terminal_at, failure_reason
		FROM trade WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	return t, err
}

// ListUnresolved returns every trade still EXECUTING or PARTIAL, the
// set internal/recovery reconciles at startup (spec §4.9).
func (r *TradeRepository) ListUnresolved(ctx context.Context) ([]*models.Trade, error) {
	query := `
		SELECT id, cycle_id, amount_in, input_currency, status, fills,
		       amount_out, profit_loss, profit_loss_pct, held_position,
		       estimated_pl, started_at, terminal_at, failure_reason
		FROM trade WHERE status IN ('EXECUTING', 'PARTIAL') ORDER BY started_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (*models.Trade, error) {
	var (
		t             models.Trade
		cycleID       string
		inputCurrency string
		status        string
		fillsJSON     []byte
		heldJSON      sql.NullString
		terminalAt    sql.NullTime
		failureReason sql.NullString
	)

	err := row.Scan(
		&t.ID, &cycleID, &t.AmountIn, &inputCurrency, &status, &fillsJSON,
		&t.AmountOut, &t.ProfitLoss, &t.ProfitLossPct, &heldJSON,
		&t.EstimatedPL, &t.StartedAt, &terminalAt, &failureReason,
	)
	if err != nil {
		return nil, err
	}

	t.Cycle = models.Cycle{ID: cycleID, Currencies: models.DecodeCycleID(cycleID)}
	t.InputCurrency = models.Currency(inputCurrency)
	t.Status = models.TradeStatus(status)
	if failureReason.Valid {
		t.FailureReason = failureReason.String
	}
	if terminalAt.Valid {
		tt := terminalAt.Time
		t.TerminalAt = &tt
	}
	if len(fillsJSON) > 0 {
		_ = json.Unmarshal(fillsJSON, &t.Fills)
	}
	if heldJSON.Valid {
		var held models.HeldPosition
		if err := json.Unmarshal([]byte(heldJSON.String), &held); err == nil {
			t.Held = &held
		}
	}
	return &t, nil
}

func currenciesToStrings(cs []models.Currency) string {
	return models.EncodeCycleID(cs)
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
