package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"arbitrage/internal/models"
)

// NotificationRepository persists operator-facing event records raised
// by the engine and circuit breaker.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n models.Notification) error {
	var meta []byte
	if n.Meta != nil {
		var err error
		meta, err = json.Marshal(n.Meta)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO notification (timestamp, type, severity, trade_id, message, meta)
		VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := r.db.ExecContext(ctx, query, n.Timestamp, n.Type, n.Severity, n.TradeID, n.Message, nullableJSON(meta))
	return err
}

// DeleteOlderThan drops notifications past the retention horizon (spec
// §4.7's periodic bounded cleanup).
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notification WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Recent returns the most recent notifications, newest first, for a
// status page or operator digest.
func (r *NotificationRepository) Recent(ctx context.Context, limit int) ([]models.Notification, error) {
	query := `
		SELECT timestamp, type, severity, trade_id, message, meta
		FROM notification ORDER BY timestamp DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var tradeID sql.NullString
		var meta []byte
		if err := rows.Scan(&n.Timestamp, &n.Type, &n.Severity, &tradeID, &n.Message, &meta); err != nil {
			return nil, err
		}
		if tradeID.Valid {
			n.TradeID = &tradeID.String
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
