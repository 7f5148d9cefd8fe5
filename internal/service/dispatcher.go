package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"storefront-events/internal/domain"
	"storefront-events/internal/realtime"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
)

// Publisher is the read side of the connection router.
type Publisher interface {
	Connected(g realtime.Group) int
	Publish(g realtime.Group, msg realtime.Message) (int, error)
}

// EmailQueue accepts messages for asynchronous delivery.
type EmailQueue interface {
	Enqueue(address, subject, body string) bool
}

// Delivery is a recorded notification waiting for its best-effort fan-out.
type Delivery struct {
	Notification domain.Notification
	group        realtime.Group
	event        string
	emailTo      uuid.UUID
	subject      string
}

// Dispatcher is the single fan-out point for domain events. The durable
// notification row is written first; the live push and the email follow and
// never fail the caller.
type Dispatcher struct {
	notifications repo.NotificationRepo
	users         repo.UserRepo
	push          Publisher
	email         EmailQueue
	log           *slog.Logger
	now           func() time.Time
}

func NewDispatcher(
	notifications repo.NotificationRepo,
	users repo.UserRepo,
	push Publisher,
	email EmailQueue,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifications: notifications,
		users:         users,
		push:          push,
		email:         email,
		log:           logger.With("component", "dispatcher"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch records the event and fans it out.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) (*domain.Notification, error) {
	del, err := d.Record(ctx, ev)
	if err != nil {
		return nil, err
	}
	d.Deliver(ctx, del)
	return &del.Notification, nil
}

// Record writes the notification row for ev. When ctx carries a transaction
// the row commits or rolls back with it.
func (d *Dispatcher) Record(ctx context.Context, ev domain.Event) (Delivery, error) {
	env, err := envelopeFor(ev)
	if err != nil {
		return Delivery{}, err
	}

	id := env.id
	if id == uuid.Nil {
		id = uuid.New()
	}
	n := domain.Notification{
		ID:        id,
		Recipient: env.recipient,
		Type:      env.kind,
		Message:   env.message,
		OrderID:   env.orderID,
		CreatedAt: d.now(),
	}
	if err := d.notifications.Append(ctx, &n); err != nil {
		return Delivery{}, fmt.Errorf("record %s notification: %w", env.kind, err)
	}

	return Delivery{
		Notification: n,
		group:        env.group,
		event:        env.event,
		emailTo:      env.emailTo,
		subject:      env.subject,
	}, nil
}

// Deliver pushes a recorded notification to live connections and queues the
// email. Failures are logged.
func (d *Dispatcher) Deliver(ctx context.Context, del Delivery) {
	if d.push != nil && d.push.Connected(del.group) > 0 {
		if _, err := d.push.Publish(del.group, realtime.Message{Event: del.event, Data: del.Notification}); err != nil {
			d.log.Warn("live push failed", "event", del.event, "group", del.group, "error", err)
		}
	}

	if d.email == nil || del.emailTo == uuid.Nil {
		return
	}
	contact, err := d.users.FindContact(ctx, del.emailTo)
	if err != nil {
		d.log.Warn("email skipped, contact lookup failed", "user", del.emailTo, "error", err)
		return
	}
	if !contact.EmailNotifications || contact.Email == "" {
		return
	}
	d.email.Enqueue(contact.Email, del.subject, del.Notification.Message)
}

type envelope struct {
	id        uuid.UUID
	recipient string
	group     realtime.Group
	event     string
	kind      domain.NotificationType
	message   string
	orderID   *uuid.UUID
	emailTo   uuid.UUID
	subject   string
}

func customerEnvelope(o domain.Order, event string, kind domain.NotificationType, subject, message string) envelope {
	id := o.ID
	return envelope{
		recipient: domain.UserRecipient(o.UserID),
		group:     realtime.UserGroup(o.UserID),
		event:     event,
		kind:      kind,
		message:   message,
		orderID:   &id,
		emailTo:   o.UserID,
		subject:   subject,
	}
}

func adminEnvelope(o domain.Order, event string, kind domain.NotificationType, message string) envelope {
	id := o.ID
	return envelope{
		recipient: domain.AdminsRecipient,
		group:     realtime.GroupAdmins,
		event:     event,
		kind:      kind,
		message:   message,
		orderID:   &id,
	}
}

func envelopeFor(ev domain.Event) (envelope, error) {
	switch e := ev.(type) {
	case domain.OrderPlacedEvent:
		o := e.Order
		if e.Audience == domain.AudienceAdmins {
			return adminEnvelope(o, "admin:order_placed", domain.NotificationPlaced,
				fmt.Sprintf("New order #%s placed, total %s (%s)", o.Ref(), o.TotalAmount.StringFixed(2), o.PaymentMethod)), nil
		}
		return customerEnvelope(o, "user:order_placed", domain.NotificationPlaced,
			"Order confirmation",
			fmt.Sprintf("Your order #%s has been placed. Total: %s", o.Ref(), o.TotalAmount.StringFixed(2))), nil

	case domain.OrderShippedEvent:
		return customerEnvelope(e.Order, "user:order_shipped", domain.NotificationShipped,
			"Your order has shipped",
			fmt.Sprintf("Your order #%s has been shipped", e.Order.Ref())), nil

	case domain.OrderDeliveredEvent:
		return customerEnvelope(e.Order, "user:order_delivered", domain.NotificationDelivered,
			"Your order was delivered",
			fmt.Sprintf("Your order #%s has been delivered", e.Order.Ref())), nil

	case domain.OrderCancelledEvent:
		o := e.Order
		if e.Audience == domain.AudienceAdmins {
			by := "an administrator"
			if e.ByOwner {
				by = "the customer"
			}
			return adminEnvelope(o, "admin:order_cancelled", domain.NotificationCancelled,
				fmt.Sprintf("Order #%s was cancelled by %s", o.Ref(), by)), nil
		}
		return customerEnvelope(o, "user:order_cancelled", domain.NotificationCancelled,
			"Your order was cancelled",
			fmt.Sprintf("Your order #%s has been cancelled", o.Ref())), nil

	case domain.PaymentConfirmedEvent:
		o := e.Order
		if e.Audience == domain.AudienceAdmins {
			return adminEnvelope(o, "admin:payment_confirmed", domain.NotificationPayment,
				fmt.Sprintf("Payment of %s received for order #%s (%s)", o.TotalAmount.StringFixed(2), o.Ref(), o.PaymentMethod)), nil
		}
		return customerEnvelope(o, "user:payment_confirmed", domain.NotificationPayment,
			"Payment received",
			fmt.Sprintf("We received your payment of %s for order #%s", o.TotalAmount.StringFixed(2), o.Ref())), nil

	case domain.Broadcast:
		return envelope{
			id:        e.ID,
			recipient: domain.UserRecipient(e.Recipient),
			group:     realtime.UserGroup(e.Recipient),
			event:     "user:broadcast",
			kind:      domain.NotificationBroadcast,
			message:   e.Message,
			emailTo:   e.Recipient,
			subject:   "Announcement",
		}, nil
	}
	return envelope{}, fmt.Errorf("%w: unknown event %T", domain.ErrInvalidInput, ev)
}
