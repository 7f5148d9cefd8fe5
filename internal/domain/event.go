package domain

import "github.com/google/uuid"

// Audience picks which inbox an order event is addressed to.
type Audience int

const (
	AudienceCustomer Audience = iota
	AudienceAdmins
)

// Event is a domain fact handed to the dispatcher. The set of variants is
// closed: only types in this file implement it.
type Event interface {
	isEvent()
}

type OrderPlacedEvent struct {
	Order    Order
	Audience Audience
}

type OrderShippedEvent struct {
	Order Order
}

type OrderDeliveredEvent struct {
	Order Order
}

type OrderCancelledEvent struct {
	Order    Order
	Audience Audience
	ByOwner  bool
}

type PaymentConfirmedEvent struct {
	Order    Order
	Audience Audience
}

// Broadcast is an announcement addressed to one customer. A non-nil ID
// becomes the notification id, so recording the same ID twice fails with
// ErrAlreadyExists.
type Broadcast struct {
	ID        uuid.UUID
	Recipient uuid.UUID
	Message   string
}

func (OrderPlacedEvent) isEvent()      {}
func (OrderShippedEvent) isEvent()     {}
func (OrderDeliveredEvent) isEvent()   {}
func (OrderCancelledEvent) isEvent()   {}
func (PaymentConfirmedEvent) isEvent() {}
func (Broadcast) isEvent()             {}
