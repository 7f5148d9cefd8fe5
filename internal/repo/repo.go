package repo

import (
	"context"
	"time"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
)

// TxManager runs fn inside a transaction carried by the context. A nested
// call joins the outer transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type OrderRepo interface {
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// FindByIdForUpdate locks the row until the surrounding transaction ends.
	FindByIdForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	// CreateOrder returns domain.ErrAlreadyExists when another order already
	// holds the same payment intent.
	CreateOrder(ctx context.Context, order *domain.Order) error
	UpdateOrderStatus(ctx context.Context, order *domain.Order) error
	UpdatePaymentStatus(ctx context.Context, order *domain.Order) error
	FindStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
}

type NotificationRepo interface {
	Append(ctx context.Context, n *domain.Notification) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	List(ctx context.Context, q domain.NotificationQuery) (domain.NotificationPage, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context, recipient string) (int64, error)
	ClearAll(ctx context.Context, recipient string) (int64, error)
	UnreadCount(ctx context.Context, recipient string) (int64, error)
}

type UserRepo interface {
	FindContact(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	ListCustomerIDs(ctx context.Context) ([]uuid.UUID, error)
}

type ProductRepo interface {
	// FindByIds returns the products found, keyed by id. Missing ids are
	// simply absent from the map.
	FindByIds(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error)
}

type PaymentEventRepo interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records the event. It reports false when the event was
	// already recorded.
	MarkProcessed(ctx context.Context, eventID, eventType string, orderID *uuid.UUID) (bool, error)
}
