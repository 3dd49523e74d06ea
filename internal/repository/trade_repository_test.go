package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"arbitrage/internal/models"
)

// ============================================================
// TradeRepository Tests
// ============================================================

func TestNewTradeRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewTradeRepository(db)
	if repo == nil {
		t.Fatal("NewTradeRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestTradeRepositorySave(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		trade       *models.Trade
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "completed trade",
			trade: &models.Trade{
				ID:            "t-1",
				Cycle:         models.NewCycle("USD", "BTC", "ETH", "USD"),
				AmountIn:      100,
				InputCurrency: "USD",
				Status:        models.TradeCompleted,
				Fills:         []models.Fill{{LegIndex: 0, Pair: "XBTUSD", State: models.LegFilled}},
				AmountOut:     101.2,
				ProfitLoss:    1.2,
				ProfitLossPct: 1.2,
				StartedAt:     now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO trade`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			trade: &models.Trade{
				ID:            "t-2",
				Cycle:         models.NewCycle("USD", "BTC", "USD"),
				InputCurrency: "USD",
				Status:        models.TradeFailed,
				StartedAt:     now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO trade`).
					WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)
			repo := NewTradeRepository(db)
			err = repo.Save(context.Background(), tt.trade)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryGetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM trade WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "cycle_id", "amount_in", "input_currency", "status", "fills",
			"amount_out", "profit_loss", "profit_loss_pct", "held_position",
			"estimated_pl", "started_at", "terminal_at", "failure_reason",
		}))

	repo := NewTradeRepository(db)
	_, err = repo.GetByID(context.Background(), "missing")
	if err != ErrTradeNotFound {
		t.Errorf("expected ErrTradeNotFound, got %v", err)
	}
}

func TestTradeRepositoryListUnresolved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "cycle_id", "amount_in", "input_currency", "status", "fills",
		"amount_out", "profit_loss", "profit_loss_pct", "held_position",
		"estimated_pl", "started_at", "terminal_at", "failure_reason",
	}).AddRow("t-3", "USD → BTC → USD", 50.0, "USD", "PARTIAL", []byte(`[]`),
		0.0, 0.0, 0.0, nil, -1.0, now, nil, "leg 2 timed out")

	mock.ExpectQuery(`SELECT .* FROM trade WHERE status IN`).WillReturnRows(rows)

	repo := NewTradeRepository(db)
	out, err := repo.ListUnresolved(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].ID != "t-3" {
		t.Errorf("unexpected result: %+v", out)
	}
	if out[0].Status != models.TradePartial {
		t.Errorf("expected PARTIAL, got %s", out[0].Status)
	}
}
