package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"arbitrage/internal/models"
)

func TestNotificationRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	tradeID := "t-1"
	n := models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeTradeCompleted,
		Severity:  models.SeverityInfo,
		TradeID:   &tradeID,
		Message:   "arbitrage cycle completed",
	}

	mock.ExpectExec(`INSERT INTO notification`).
		WithArgs(n.Timestamp, n.Type, n.Severity, &tradeID, n.Message, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewNotificationRepository(db)
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNotificationRepositoryCreateWithMeta(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	n := models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeBreakerTripped,
		Severity:  models.SeverityError,
		Message:   "daily loss limit reached",
		Meta:      map[string]interface{}{"daily_loss_usd": 12.5},
	}

	mock.ExpectExec(`INSERT INTO notification`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewNotificationRepository(db)
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNotificationRepositoryRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"timestamp", "type", "severity", "trade_id", "message", "meta"}).
		AddRow(now, models.NotificationTypeTradeFailed, models.SeverityError, "t-2", "leg 1 failed", nil).
		AddRow(now, models.NotificationTypeBreakerTripped, models.SeverityError, nil, "daily loss limit reached", nil)

	mock.ExpectQuery(`SELECT .* FROM notification ORDER BY timestamp DESC LIMIT`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewNotificationRepository(db)
	out, err := repo.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(out))
	}
	if out[0].TradeID == nil || *out[0].TradeID != "t-2" {
		t.Errorf("expected first notification's TradeID to scan as a non-nil \"t-2\", got %+v", out[0].TradeID)
	}
	if out[1].TradeID != nil {
		t.Errorf("expected second notification's TradeID to scan as nil, got %v", *out[1].TradeID)
	}
}
