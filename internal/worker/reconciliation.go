package worker

import (
	"context"
	"log/slog"
	"time"

	"storefront-events/internal/domain"
	"storefront-events/internal/infrastructure/payment"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
)

const reconcileBatch = 50

// PaymentSettler applies the provider's verdict to an order.
type PaymentSettler interface {
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, actor domain.Principal) (*domain.Order, error)
	FailPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

// ReconciliationWorker catches provider payments whose webhook never
// arrived: it asks the provider about orders still awaiting payment and
// settles them.
type ReconciliationWorker struct {
	orderRepo  repo.OrderRepo
	gateway    payment.Gateway
	settler    PaymentSettler
	interval   time.Duration
	staleAfter time.Duration
	log        *slog.Logger
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	gateway payment.Gateway,
	settler PaymentSettler,
	interval time.Duration,
	staleAfter time.Duration,
	logger *slog.Logger,
) *ReconciliationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationWorker{
		orderRepo:  orderRepo,
		gateway:    gateway,
		settler:    settler,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logger.With("component", "reconciliation"),
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.log.Info("reconciliation worker started", "interval", rw.interval, "stale_after", rw.staleAfter)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rw.Sweep(ctx); err != nil {
				rw.log.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Sweep settles one batch of stale orders and returns how many changed.
func (rw *ReconciliationWorker) Sweep(ctx context.Context) (int, error) {
	stale, err := rw.orderRepo.FindStalePendingPayments(ctx, rw.staleAfter, reconcileBatch)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	rw.log.Info("found orders awaiting payment", "count", len(stale))

	settled := 0
	for _, order := range stale {
		intent, err := rw.gateway.GetPaymentIntent(ctx, order.PaymentIntentID)
		if err != nil {
			// Leave it for the next sweep.
			rw.log.Warn("payment intent lookup failed", "order", order.ID, "intent", order.PaymentIntentID, "error", err)
			continue
		}

		var outcome string
		switch intent.Status {
		case domain.IntentStatusSucceeded:
			_, err = rw.settler.ConfirmPayment(ctx, order.ID, domain.System)
			outcome = "paid"
		case domain.IntentStatusCanceled:
			_, err = rw.settler.FailPayment(ctx, order.ID)
			outcome = "failed"
		default:
			continue
		}
		if err != nil {
			rw.log.Warn("settling order failed", "order", order.ID, "error", err)
			continue
		}
		rw.log.Info("order settled by sweep", "order", order.ID, "intent", intent.ID, "payment", outcome)
		settled++
	}
	return settled, nil
}
