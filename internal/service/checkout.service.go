package service

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-events/internal/domain"
	"storefront-events/internal/infrastructure/payment"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metadata keys carried on a payment intent.
const (
	metaUserID          = "userId"
	metaItems           = "items"
	metaShippingAddress = "shippingAddress"
)

// priceItems turns requested items into line items priced from the current
// catalog.
func priceItems(ctx context.Context, products repo.ProductRepo, items []domain.IntentItem) ([]domain.LineItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", domain.ErrInvalidInput)
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	catalog, err := products.FindByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		p, ok := catalog[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s not in catalog", domain.ErrInvalidInput, it.ProductID)
		}
		lines = append(lines, domain.LineItem{ProductID: p.ID, Quantity: it.Quantity, UnitPrice: p.Price})
	}
	return lines, nil
}

// minorUnits converts an amount to the provider's integer minor units.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CheckoutService opens provider payments. The intent carries everything
// the webhook reconciler needs to build the order.
type CheckoutService struct {
	gateway  payment.Gateway
	products repo.ProductRepo
	currency string
}

func NewCheckoutService(gateway payment.Gateway, products repo.ProductRepo, currency string) *CheckoutService {
	return &CheckoutService{gateway: gateway, products: products, currency: currency}
}

func (s *CheckoutService) CreateIntent(ctx context.Context, userID uuid.UUID, items []domain.IntentItem, addr domain.ShippingAddress) (*domain.PaymentIntent, error) {
	if addr.Blank() {
		return nil, fmt.Errorf("%w: shipping address is blank", domain.ErrInvalidInput)
	}
	for i, it := range items {
		if it.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", domain.ErrInvalidInput, i)
		}
	}
	lines, err := priceItems(ctx, s.products, items)
	if err != nil {
		return nil, err
	}
	total := domain.ComputeTotal(lines, domain.PaymentStripe, decimal.Zero)

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	addrJSON, err := json.Marshal(addr)
	if err != nil {
		return nil, err
	}
	return s.gateway.CreatePaymentIntent(ctx, minorUnits(total), s.currency, map[string]string{
		metaUserID:          userID.String(),
		metaItems:           string(itemsJSON),
		metaShippingAddress: string(addrJSON),
	})
}
