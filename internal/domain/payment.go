package domain

import (
	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "CashOnDelivery"
	PaymentStripe         PaymentMethod = "Stripe"
	PaymentJazzCash       PaymentMethod = "JazzCash"
	PaymentEasyPaisa      PaymentMethod = "EasyPaisa"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentStripe, PaymentJazzCash, PaymentEasyPaisa:
		return true
	}
	return false
}

// ConfirmedByProvider reports whether payment for the method is settled by an
// asynchronous provider event rather than by hand.
func (m PaymentMethod) ConfirmedByProvider() bool {
	switch m {
	case PaymentStripe, PaymentJazzCash, PaymentEasyPaisa:
		return true
	}
	return false
}

// InitialPaymentStatus is the payment status a new order starts with. Every
// method starts pending: provider methods wait for a confirmation event and
// cash on delivery waits for manual reconciliation.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	return PaymentPending
}

// IntentItem is the trimmed line item carried in payment intent metadata.
// Prices are deliberately absent; they are re-read from the catalog.
type IntentItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int64     `json:"quantity"`
}

// PaymentIntent is the provider's view of a pending charge.
type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

const (
	IntentStatusSucceeded = "succeeded"
	IntentStatusCanceled  = "canceled"
)

// ProviderEvent is a verified webhook event.
type ProviderEvent struct {
	ID     string
	Type   string
	Intent *PaymentIntent
}

const EventPaymentIntentSucceeded = "payment_intent.succeeded"
