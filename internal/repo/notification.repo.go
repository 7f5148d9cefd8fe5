package repo

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
)

const notificationColumns = "id, recipient, type, message, order_id, read, created_at"

type notificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) NotificationRepo {
	return &notificationRepo{db: db}
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n       domain.Notification
		orderID uuid.NullUUID
	)
	if err := row.Scan(&n.ID, &n.Recipient, &n.Type, &n.Message, &orderID, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	if orderID.Valid {
		id := orderID.UUID
		n.OrderID = &id
	}
	return &n, nil
}

func (r *notificationRepo) Append(ctx context.Context, n *domain.Notification) error {
	var orderID uuid.NullUUID
	if n.OrderID != nil {
		orderID = uuid.NullUUID{UUID: *n.OrderID, Valid: true}
	}
	_, err := conn(ctx, r.db).ExecContext(ctx,
		"INSERT INTO notifications ("+notificationColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		n.ID, n.Recipient, n.Type, n.Message, orderID, n.Read, n.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *notificationRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	n, err := scanNotification(conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *notificationRepo) List(ctx context.Context, q domain.NotificationQuery) (domain.NotificationPage, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE recipient = $1"
	args := []any{q.Recipient}
	switch q.Filter {
	case domain.FilterUnread:
		query += " AND read = FALSE"
	case domain.FilterRead:
		query += " AND read = TRUE"
	case domain.FilterBroadcast:
		query += " AND type = $2"
		args = append(args, domain.NotificationBroadcast)
	}
	// One extra row tells us whether another page exists.
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, q.PageSize+1, q.Offset())

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return domain.NotificationPage{}, err
	}
	defer rows.Close()

	page := domain.NotificationPage{Items: []domain.Notification{}}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return domain.NotificationPage{}, err
		}
		page.Items = append(page.Items, *n)
	}
	if err := rows.Err(); err != nil {
		return domain.NotificationPage{}, err
	}
	if len(page.Items) > q.PageSize {
		page.Items = page.Items[:q.PageSize]
		page.HasMore = true
	}
	return page, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		"UPDATE notifications SET read = TRUE WHERE id = $1 AND read = FALSE", id)
	return err
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		"UPDATE notifications SET read = TRUE WHERE recipient = $1 AND read = FALSE", recipient)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *notificationRepo) ClearAll(ctx context.Context, recipient string) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		"DELETE FROM notifications WHERE recipient = $1", recipient)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *notificationRepo) UnreadCount(ctx context.Context, recipient string) (int64, error) {
	var count int64
	err := conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE recipient = $1 AND read = FALSE", recipient,
	).Scan(&count)
	return count, err
}
