package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront-events/internal/domain"
	"storefront-events/internal/infrastructure/payment"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// Reconciler turns verified provider events into orders through the same
// creation path the REST API uses.
type Reconciler struct {
	gateway   payment.Gateway
	orders    *OrderService
	orderRepo repo.OrderRepo
	products  repo.ProductRepo
	events    repo.PaymentEventRepo
	timeout   time.Duration
	log       *slog.Logger
}

func NewReconciler(
	gateway payment.Gateway,
	orders *OrderService,
	orderRepo repo.OrderRepo,
	products repo.ProductRepo,
	events repo.PaymentEventRepo,
	timeout time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		gateway:   gateway,
		orders:    orders,
		orderRepo: orderRepo,
		products:  products,
		events:    events,
		timeout:   timeout,
		log:       logger.With("component", "webhook"),
	}
}

// Handle verifies and applies one delivery. A bad signature returns
// domain.ErrInvalidSignature and touches nothing. Any other error means the
// delivery should be retried by the provider.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	ev, err := r.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return "", err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.log.With("event", ev.ID, "type", ev.Type)
	if ev.Type != domain.EventPaymentIntentSucceeded || ev.Intent == nil {
		log.Debug("event ignored")
		return OutcomeIgnored, nil
	}

	seen, err := r.events.Exists(ctx, ev.ID)
	if err != nil {
		return "", err
	}
	if seen {
		log.Info("duplicate delivery")
		return OutcomeDuplicate, nil
	}

	order, err := r.orderFor(ctx, ev.Intent)
	if errors.Is(err, domain.ErrInvalidInput) {
		// Retrying cannot fix bad metadata. Record the event so it stops.
		log.Error("payment succeeded but order cannot be built", "intent", ev.Intent.ID, "error", err)
		if _, merr := r.events.MarkProcessed(ctx, ev.ID, ev.Type, nil); merr != nil {
			return "", merr
		}
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	if _, err := r.orders.ConfirmPayment(ctx, order.ID, domain.System); err != nil {
		return "", err
	}

	fresh, err := r.events.MarkProcessed(ctx, ev.ID, ev.Type, &order.ID)
	if err != nil {
		return "", err
	}
	if !fresh {
		log.Info("event recorded concurrently", "order", order.ID)
		return OutcomeDuplicate, nil
	}
	log.Info("payment reconciled", "order", order.ID, "intent", ev.Intent.ID)
	return OutcomeProcessed, nil
}

// orderFor returns the order for the intent, creating it from the intent
// metadata when neither path has created it yet.
func (r *Reconciler) orderFor(ctx context.Context, pi *domain.PaymentIntent) (*domain.Order, error) {
	existing, err := r.orderRepo.FindByPaymentIntent(ctx, pi.ID)
	if err == nil {
		if existing.UserID.String() != pi.Metadata[metaUserID] {
			return nil, fmt.Errorf("%w: intent %s is held by order %s of another user", domain.ErrInvalidInput, pi.ID, existing.ID)
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	in, err := r.decodeIntent(ctx, pi)
	if err != nil {
		return nil, err
	}
	order, created, err := r.orders.CreateOrder(ctx, in)
	if err != nil {
		return nil, err
	}
	if !created {
		r.log.Info("order created concurrently by another path", "order", order.ID, "intent", pi.ID)
	}
	return order, nil
}

func (r *Reconciler) decodeIntent(ctx context.Context, pi *domain.PaymentIntent) (CreateOrderInput, error) {
	userID, err := uuid.Parse(pi.Metadata[metaUserID])
	if err != nil {
		return CreateOrderInput{}, fmt.Errorf("%w: intent %s user id: %v", domain.ErrInvalidInput, pi.ID, err)
	}
	var items []domain.IntentItem
	if err := json.Unmarshal([]byte(pi.Metadata[metaItems]), &items); err != nil {
		return CreateOrderInput{}, fmt.Errorf("%w: intent %s items: %v", domain.ErrInvalidInput, pi.ID, err)
	}
	var addr domain.ShippingAddress
	if err := json.Unmarshal([]byte(pi.Metadata[metaShippingAddress]), &addr); err != nil {
		return CreateOrderInput{}, fmt.Errorf("%w: intent %s shipping address: %v", domain.ErrInvalidInput, pi.ID, err)
	}

	lines, err := priceItems(ctx, r.products, items)
	if err != nil {
		return CreateOrderInput{}, err
	}
	in := CreateOrderInput{
		UserID:          userID,
		Items:           lines,
		ShippingAddress: addr,
		PaymentMethod:   domain.PaymentStripe,
		PaymentIntentID: pi.ID,
	}
	if want := minorUnits(domain.ComputeTotal(lines, in.PaymentMethod, decimal.Zero)); want != pi.Amount {
		r.log.Warn("catalog total differs from charged amount", "intent", pi.ID, "charged", pi.Amount, "catalog", want)
	}
	return in, nil
}
