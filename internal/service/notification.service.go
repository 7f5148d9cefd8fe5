package service

import (
	"context"
	"fmt"

	"storefront-events/internal/domain"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Inbox is the recipient whose notifications the principal reads.
// Administrators share one inbox.
func Inbox(p domain.Principal) string {
	if p.IsAdmin() {
		return domain.AdminsRecipient
	}
	return domain.UserRecipient(p.UserID)
}

type NotificationService struct {
	notifications repo.NotificationRepo
}

func NewNotificationService(notifications repo.NotificationRepo) *NotificationService {
	return &NotificationService{notifications: notifications}
}

// List returns one page of the principal's inbox, newest first. Zero page
// and page size fall back to defaults.
func (s *NotificationService) List(ctx context.Context, p domain.Principal, page, pageSize int, filter domain.NotificationFilter) (domain.NotificationPage, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if filter == "" {
		filter = domain.FilterAll
	}
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return domain.NotificationPage{}, fmt.Errorf("%w: page %d size %d", domain.ErrInvalidInput, page, pageSize)
	}
	if !filter.Valid() {
		return domain.NotificationPage{}, fmt.Errorf("%w: unknown filter %q", domain.ErrInvalidInput, filter)
	}
	return s.notifications.List(ctx, domain.NotificationQuery{
		Recipient: Inbox(p),
		Page:      page,
		PageSize:  pageSize,
		Filter:    filter,
	})
}

// MarkRead flips one notification to read. Already read is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, id uuid.UUID, p domain.Principal) error {
	n, err := s.notifications.FindById(ctx, id)
	if err != nil {
		return err
	}
	if n.Recipient != Inbox(p) {
		return fmt.Errorf("%w: notification belongs to another recipient", domain.ErrForbidden)
	}
	if n.Read {
		return nil
	}
	return s.notifications.MarkRead(ctx, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, p domain.Principal) (int64, error) {
	return s.notifications.MarkAllRead(ctx, Inbox(p))
}

func (s *NotificationService) ClearAll(ctx context.Context, p domain.Principal) (int64, error) {
	return s.notifications.ClearAll(ctx, Inbox(p))
}

func (s *NotificationService) UnreadCount(ctx context.Context, p domain.Principal) (int64, error) {
	return s.notifications.UnreadCount(ctx, Inbox(p))
}
