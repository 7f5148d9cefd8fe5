package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationPlaced    NotificationType = "placed"
	NotificationShipped   NotificationType = "shipped"
	NotificationDelivered NotificationType = "delivered"
	NotificationCancelled NotificationType = "cancelled"
	NotificationBroadcast NotificationType = "broadcast"
	NotificationPayment   NotificationType = "payment"
)

// AdminsRecipient addresses the shared administrators' inbox.
const AdminsRecipient = "group:admins"

// UserRecipient addresses a single user's inbox.
func UserRecipient(id uuid.UUID) string { return id.String() }

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Recipient string           `json:"recipient"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	OrderID   *uuid.UUID       `json:"orderId,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

type NotificationFilter string

const (
	FilterAll       NotificationFilter = "all"
	FilterUnread    NotificationFilter = "unread"
	FilterRead      NotificationFilter = "read"
	FilterBroadcast NotificationFilter = "broadcast"
)

func (f NotificationFilter) Valid() bool {
	switch f {
	case FilterAll, FilterUnread, FilterRead, FilterBroadcast:
		return true
	}
	return false
}

// NotificationQuery selects one page of a recipient's history. Page is 1-based.
type NotificationQuery struct {
	Recipient string
	Page      int
	PageSize  int
	Filter    NotificationFilter
}

func (q NotificationQuery) Offset() int { return (q.Page - 1) * q.PageSize }

type NotificationPage struct {
	Items   []Notification `json:"items"`
	HasMore bool           `json:"hasMore"`
}
