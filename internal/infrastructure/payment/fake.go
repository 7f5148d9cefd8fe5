package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"storefront-events/internal/domain"

	"github.com/stripe/stripe-go/v79/webhook"
)

// FakeGateway keeps intents in memory and verifies webhooks with the real
// Stripe signature scheme, so tests and the simulator exercise the same
// verification path as production.
type FakeGateway struct {
	mu      sync.RWMutex
	secret  string
	intents map[string]*domain.PaymentIntent
	seq     int
}

func NewFakeGateway(webhookSecret string) *FakeGateway {
	return &FakeGateway{
		secret:  webhookSecret,
		intents: make(map[string]*domain.PaymentIntent),
	}
}

var _ Gateway = (*FakeGateway)(nil)

func (g *FakeGateway) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pi_fake_%d", g.seq)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	pi := &domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       amount,
		Currency:     currency,
		Status:       "requires_payment_method",
		Metadata:     md,
	}
	g.intents[id] = pi
	cp := *pi
	return &cp, nil
}

func (g *FakeGateway) GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pi, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, id)
	}
	cp := *pi
	return &cp, nil
}

func (g *FakeGateway) VerifyWebhook(payload []byte, signature string) (*domain.ProviderEvent, error) {
	return verifyStripeEvent(payload, signature, g.secret)
}

// Succeed marks the intent as paid, as the provider would after a charge.
func (g *FakeGateway) Succeed(id string) (*domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, id)
	}
	pi.Status = domain.IntentStatusSucceeded
	cp := *pi
	return &cp, nil
}

// Cancel marks the intent as abandoned.
func (g *FakeGateway) Cancel(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[id]
	if !ok {
		return fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, id)
	}
	pi.Status = domain.IntentStatusCanceled
	return nil
}

// Sign returns the signature header the provider would send with payload.
func (g *FakeGateway) Sign(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  g.secret,
	})
	return signed.Header
}

// IntentEvent renders a provider event envelope wrapping the intent.
func IntentEvent(eventID, eventType string, pi *domain.PaymentIntent) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":       pi.ID,
				"object":   "payment_intent",
				"amount":   pi.Amount,
				"currency": pi.Currency,
				"status":   pi.Status,
				"metadata": pi.Metadata,
			},
		},
	})
	return body
}
