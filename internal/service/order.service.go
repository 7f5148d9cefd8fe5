package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront-events/internal/domain"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentLookup reads a provider payment intent.
type IntentLookup interface {
	GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
}

// EventRecorder is the part of the dispatcher the order state machine needs.
type EventRecorder interface {
	Record(ctx context.Context, ev domain.Event) (Delivery, error)
	Deliver(ctx context.Context, del Delivery)
}

type CreateOrderInput struct {
	UserID          uuid.UUID
	Items           []domain.LineItem
	ShippingAddress domain.ShippingAddress
	PaymentMethod   domain.PaymentMethod
	// PaymentIntentID ties the order to a provider payment. At most one order
	// exists per intent.
	PaymentIntentID string
}

// OrderService is the order state machine. Every mutation re-reads the order
// under a row lock and records its events in the same transaction; live
// delivery happens after commit.
type OrderService struct {
	tx           repo.TxManager
	orders       repo.OrderRepo
	events       EventRecorder
	intents      IntentLookup
	codSurcharge decimal.Decimal
	log          *slog.Logger
	now          func() time.Time
}

func NewOrderService(
	tx repo.TxManager,
	orders repo.OrderRepo,
	events EventRecorder,
	intents IntentLookup,
	codSurcharge decimal.Decimal,
	logger *slog.Logger,
) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		tx:           tx,
		orders:       orders,
		events:       events,
		intents:      intents,
		codSurcharge: codSurcharge,
		log:          logger.With("component", "orders"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func validateCreate(in CreateOrderInput) error {
	if in.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing user", domain.ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order has no items", domain.ErrInvalidInput)
	}
	for i, it := range in.Items {
		if it.ProductID == uuid.Nil {
			return fmt.Errorf("%w: item %d has no product", domain.ErrInvalidInput, i)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", domain.ErrInvalidInput, i)
		}
		if !it.UnitPrice.IsPositive() {
			return fmt.Errorf("%w: item %d unit price must be positive", domain.ErrInvalidInput, i)
		}
	}
	if in.ShippingAddress.Blank() {
		return fmt.Errorf("%w: shipping address is blank", domain.ErrInvalidInput)
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrInvalidInput, in.PaymentMethod)
	}
	return nil
}

// CreateOrder places a new pending order. When another order already holds
// the same payment intent, that order is returned with created=false and no
// events are emitted.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (order *domain.Order, created bool, err error) {
	if err := validateCreate(in); err != nil {
		return nil, false, err
	}

	now := s.now()
	o := &domain.Order{
		ID:              uuid.New(),
		UserID:          in.UserID,
		Items:           append([]domain.LineItem(nil), in.Items...),
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   in.PaymentMethod.InitialPaymentStatus(),
		PaymentIntentID: in.PaymentIntentID,
		TotalAmount:     domain.ComputeTotal(in.Items, in.PaymentMethod, s.codSurcharge),
		Status:          domain.OrderPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var pending []Delivery
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orders.CreateOrder(ctx, o); err != nil {
			return err
		}
		var err error
		pending, err = s.record(ctx,
			domain.OrderPlacedEvent{Order: *o, Audience: domain.AudienceCustomer},
			domain.OrderPlacedEvent{Order: *o, Audience: domain.AudienceAdmins},
		)
		return err
	})
	if errors.Is(err, domain.ErrAlreadyExists) && in.PaymentIntentID != "" {
		existing, ferr := s.orders.FindByPaymentIntent(ctx, in.PaymentIntentID)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing.UserID != in.UserID {
			return nil, false, fmt.Errorf("%w: payment intent belongs to another user", domain.ErrForbidden)
		}
		s.log.Info("order already exists for payment intent", "order", existing.ID, "intent", in.PaymentIntentID)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.log.Info("order placed", "order", o.ID, "user", o.UserID, "total", o.TotalAmount.String(), "method", o.PaymentMethod)
	s.deliver(ctx, pending)
	return o, true, nil
}

// PlaceOrder is CreateOrder for client submitted orders. An order that names
// a payment intent must match it: the intent was opened by the caller for the
// same items and its amount equals the order total.
func (s *OrderService) PlaceOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, bool, error) {
	if err := validateCreate(in); err != nil {
		return nil, false, err
	}
	if in.PaymentIntentID != "" {
		if err := s.checkIntent(ctx, in); err != nil {
			return nil, false, err
		}
	}
	return s.CreateOrder(ctx, in)
}

func (s *OrderService) checkIntent(ctx context.Context, in CreateOrderInput) error {
	if !in.PaymentMethod.ConfirmedByProvider() {
		return fmt.Errorf("%w: %s orders cannot carry a payment intent", domain.ErrInvalidInput, in.PaymentMethod)
	}
	if s.intents == nil {
		return fmt.Errorf("%w: payment intents are not enabled", domain.ErrInvalidInput)
	}
	pi, err := s.intents.GetPaymentIntent(ctx, in.PaymentIntentID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: unknown payment intent %s", domain.ErrInvalidInput, in.PaymentIntentID)
	}
	if err != nil {
		return err
	}
	if pi.Metadata[metaUserID] != in.UserID.String() {
		s.log.Warn("payment intent claimed by another user", "intent", pi.ID, "user", in.UserID)
		return fmt.Errorf("%w: payment intent belongs to another user", domain.ErrForbidden)
	}
	var paid []domain.IntentItem
	if err := json.Unmarshal([]byte(pi.Metadata[metaItems]), &paid); err != nil || !sameItems(in.Items, paid) {
		return fmt.Errorf("%w: items differ from payment intent %s", domain.ErrInvalidInput, pi.ID)
	}
	total := domain.ComputeTotal(in.Items, in.PaymentMethod, s.codSurcharge)
	if minorUnits(total) != pi.Amount {
		return fmt.Errorf("%w: total %s does not match payment of %d", domain.ErrInvalidInput, total.StringFixed(2), pi.Amount)
	}
	return nil
}

// sameItems reports whether lines order the same quantities of the same
// products as items, in any order.
func sameItems(lines []domain.LineItem, items []domain.IntentItem) bool {
	want := make(map[uuid.UUID]int64, len(items))
	for _, it := range items {
		want[it.ProductID] += it.Quantity
	}
	for _, l := range lines {
		want[l.ProductID] -= l.Quantity
	}
	for _, q := range want {
		if q != 0 {
			return false
		}
	}
	return true
}

// authorizeTransition checks that actor may move o to next. The table check
// has already passed.
func authorizeTransition(o *domain.Order, next domain.OrderStatus, actor domain.Principal) error {
	if actor.IsAdmin() {
		return nil
	}
	if next == domain.OrderCancelled && o.UserID == actor.UserID && o.Status == domain.OrderPending {
		return nil
	}
	return fmt.Errorf("%w: %s may not move order to %s", domain.ErrForbidden, actor.Role, next)
}

func transitionEvents(o domain.Order, actor domain.Principal) []domain.Event {
	switch o.Status {
	case domain.OrderShipped:
		return []domain.Event{domain.OrderShippedEvent{Order: o}}
	case domain.OrderDelivered:
		return []domain.Event{domain.OrderDeliveredEvent{Order: o}}
	case domain.OrderCancelled:
		byOwner := actor.UserID == o.UserID && !actor.IsAdmin()
		return []domain.Event{
			domain.OrderCancelledEvent{Order: o, Audience: domain.AudienceCustomer, ByOwner: byOwner},
			domain.OrderCancelledEvent{Order: o, Audience: domain.AudienceAdmins, ByOwner: byOwner},
		}
	}
	return nil
}

// Transition moves an order to next. Re-applying the current status is a
// successful no-op that emits nothing.
func (s *OrderService) Transition(ctx context.Context, orderID uuid.UUID, next domain.OrderStatus, actor domain.Principal) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, next)
	}

	var (
		out     *domain.Order
		pending []Delivery
		from    domain.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByIdForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && o.UserID != actor.UserID {
			return fmt.Errorf("%w: order belongs to another user", domain.ErrForbidden)
		}
		out = o
		if o.Status == next {
			return nil
		}
		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, o.Status, next)
		}
		if err := authorizeTransition(o, next, actor); err != nil {
			return err
		}

		from = o.Status
		o.Status = next
		o.UpdatedAt = s.now()
		if err := s.orders.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		pending, err = s.record(ctx, transitionEvents(*o, actor)...)
		return err
	})
	if err != nil {
		return nil, err
	}

	if from != "" {
		s.log.Info("order status changed", "order", out.ID, "from", from, "to", next, "actor", actor.UserID)
	}
	s.deliver(ctx, pending)
	return out, nil
}

// Cancel is Transition to cancelled.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, actor domain.Principal) (*domain.Order, error) {
	return s.Transition(ctx, orderID, domain.OrderCancelled, actor)
}

// ConfirmPayment marks the order paid and notifies the customer and the
// administrators. Confirming an already paid order is a no-op.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID uuid.UUID, actor domain.Principal) (*domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only administrators confirm payments", domain.ErrForbidden)
	}

	var (
		out     *domain.Order
		pending []Delivery
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByIdForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		if o.PaymentStatus == domain.PaymentPaid {
			return nil
		}
		o.PaymentStatus = domain.PaymentPaid
		o.UpdatedAt = s.now()
		if err := s.orders.UpdatePaymentStatus(ctx, o); err != nil {
			return err
		}
		pending, err = s.record(ctx,
			domain.PaymentConfirmedEvent{Order: *o, Audience: domain.AudienceCustomer},
			domain.PaymentConfirmedEvent{Order: *o, Audience: domain.AudienceAdmins},
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(pending) > 0 {
		s.log.Info("payment confirmed", "order", out.ID, "method", out.PaymentMethod)
	}
	s.deliver(ctx, pending)
	return out, nil
}

// MarkCashPaid records a cash-on-delivery collection. Provider payments are
// settled by their webhook and cannot be marked by hand.
func (s *OrderService) MarkCashPaid(ctx context.Context, orderID uuid.UUID, actor domain.Principal) (*domain.Order, error) {
	o, err := s.orders.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod.ConfirmedByProvider() {
		return nil, fmt.Errorf("%w: %s payments are confirmed by the provider", domain.ErrInvalidInput, o.PaymentMethod)
	}
	return s.ConfirmPayment(ctx, orderID, actor)
}

// FailPayment marks a still pending payment as failed. It emits nothing.
func (s *OrderService) FailPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var out *domain.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByIdForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		if o.PaymentStatus != domain.PaymentPending {
			return nil
		}
		o.PaymentStatus = domain.PaymentFailed
		o.UpdatedAt = s.now()
		return s.orders.UpdatePaymentStatus(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns an order its owner or an administrator may see.
func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID, actor domain.Principal) (*domain.Order, error) {
	o, err := s.orders.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && o.UserID != actor.UserID {
		return nil, fmt.Errorf("%w: order belongs to another user", domain.ErrForbidden)
	}
	return o, nil
}

func (s *OrderService) ListMine(ctx context.Context, actor domain.Principal) ([]domain.Order, error) {
	orders, err := s.orders.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

func (s *OrderService) record(ctx context.Context, events ...domain.Event) ([]Delivery, error) {
	out := make([]Delivery, 0, len(events))
	for _, ev := range events {
		del, err := s.events.Record(ctx, ev)
		if err != nil {
			return nil, err
		}
		out = append(out, del)
	}
	return out, nil
}

func (s *OrderService) deliver(ctx context.Context, pending []Delivery) {
	for _, del := range pending {
		s.events.Deliver(ctx, del)
	}
}
