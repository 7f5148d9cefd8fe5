package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type paymentEventRepo struct {
	db *sql.DB
}

// NewPaymentEventRepo tracks which provider webhook events have been handled.
func NewPaymentEventRepo(db *sql.DB) PaymentEventRepo {
	return &paymentEventRepo{db: db}
}

func (r *paymentEventRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM payment_events WHERE event_id = $1)", eventID,
	).Scan(&exists)
	return exists, err
}

func (r *paymentEventRepo) MarkProcessed(ctx context.Context, eventID, eventType string, orderID *uuid.UUID) (bool, error) {
	var order uuid.NullUUID
	if orderID != nil {
		order = uuid.NullUUID{UUID: *orderID, Valid: true}
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO payment_events (event_id, event_type, order_id, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, order,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
