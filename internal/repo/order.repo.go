package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
)

const orderColumns = `id, user_id, items, shipping_address, payment_method, payment_status,
	payment_intent_id, total_amount, status, created_at, updated_at`

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order    domain.Order
		items    []byte
		address  []byte
		intentID sql.NullString
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&items,
		&address,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&intentID,
		&order.TotalAmount,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	order.PaymentIntentID = intentID.String
	return &order, nil
}

func (r *orderRepo) findOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (r *orderRepo) FindByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE payment_intent_id = $1", intentID)
}

func (r *orderRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	return r.query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC",
		userID,
	)
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}
	intentID := sql.NullString{String: order.PaymentIntentID, Valid: order.PaymentIntentID != ""}

	_, err = conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.ID, order.UserID, string(items), string(address), order.PaymentMethod, order.PaymentStatus,
		intentID, order.TotalAmount, order.Status, order.CreatedAt, order.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	return r.update(ctx, "UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3",
		order.Status, order.UpdatedAt, order.ID)
}

func (r *orderRepo) UpdatePaymentStatus(ctx context.Context, order *domain.Order) error {
	return r.update(ctx, "UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3",
		order.PaymentStatus, order.UpdatedAt, order.ID)
}

func (r *orderRepo) update(ctx context.Context, query string, args ...any) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindStalePendingPayments returns provider-paid orders that have been waiting
// for a payment confirmation longer than olderThan.
func (r *orderRepo) FindStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	return r.query(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE payment_status = $1
		AND payment_intent_id IS NOT NULL
		AND status <> $2
		AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4`,
		domain.PaymentPending, domain.OrderCancelled, time.Now().Add(-olderThan), limit,
	)
}

func (r *orderRepo) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
