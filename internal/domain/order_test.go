package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderShipped, true},
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderDelivered, false},
		{OrderShipped, OrderDelivered, true},
		{OrderShipped, OrderCancelled, true},
		{OrderShipped, OrderPending, false},
		{OrderDelivered, OrderPending, false},
		{OrderDelivered, OrderCancelled, false},
		{OrderCancelled, OrderPending, false},
		{OrderCancelled, OrderShipped, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.True(t, OrderDelivered.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.False(t, OrderPending.Terminal())
	assert.False(t, OrderShipped.Terminal())
	assert.False(t, OrderStatus("lost").Valid())
}

func TestComputeTotal(t *testing.T) {
	items := []LineItem{
		{ProductID: uuid.New(), Quantity: 2, UnitPrice: decimal.RequireFromString("10.50")},
		{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.RequireFromString("4.00")},
	}
	surcharge := decimal.NewFromInt(100)

	assert.True(t, decimal.RequireFromString("25").Equal(ComputeTotal(items, PaymentStripe, surcharge)))
	assert.True(t, decimal.RequireFromString("125").Equal(ComputeTotal(items, PaymentCashOnDelivery, surcharge)))
}

func TestShippingAddress_Blank(t *testing.T) {
	assert.True(t, ShippingAddress{}.Blank())
	assert.True(t, ShippingAddress{Address: "  ", City: "Lahore"}.Blank())
	assert.False(t, ShippingAddress{Address: "12 Mall Rd", City: "Lahore"}.Blank())
}
