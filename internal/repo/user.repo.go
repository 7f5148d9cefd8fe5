package repo

import (
	"context"
	"database/sql"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
)

type userRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

func (r *userRepo) FindContact(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	var c domain.Contact
	err := conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT id, email, email_notifications FROM users WHERE id = $1", id,
	).Scan(&c.UserID, &c.Email, &c.EmailNotifications)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *userRepo) ListCustomerIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		"SELECT id FROM users WHERE role = $1 ORDER BY created_at", domain.RoleUser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
