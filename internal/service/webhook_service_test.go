package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront-events/internal/domain"
	"storefront-events/internal/infrastructure/payment"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paidIntent opens an intent for the fixture customer and marks it paid.
func (f *fixture) paidIntent(t *testing.T) *domain.PaymentIntent {
	t.Helper()
	pi, err := f.checkout.CreateIntent(t.Context(), f.customer.UserID,
		[]domain.IntentItem{{ProductID: f.mug.ID, Quantity: 2}, {ProductID: f.tee.ID, Quantity: 1}}, testAddress)
	require.NoError(t, err)
	pi, err = f.gateway.Succeed(pi.ID)
	require.NoError(t, err)
	return pi
}

func (f *fixture) deliver(t *testing.T, eventID string, pi *domain.PaymentIntent) (Outcome, error) {
	t.Helper()
	body := payment.IntentEvent(eventID, domain.EventPaymentIntentSucceeded, pi)
	return f.reconciler.Handle(t.Context(), body, f.gateway.Sign(body))
}

func TestCheckout_IntentCarriesCatalogAmount(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	assert.Equal(t, int64(210000), pi.Amount)
	assert.Equal(t, "pkr", pi.Currency)
	assert.Equal(t, f.customer.UserID.String(), pi.Metadata["userId"])
	assert.NotContains(t, pi.Metadata["items"], "unitPrice")
}

func TestCheckout_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.checkout.CreateIntent(t.Context(), f.customer.UserID, nil, testAddress)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.checkout.CreateIntent(t.Context(), f.customer.UserID,
		[]domain.IntentItem{{ProductID: f.mug.ID, Quantity: 1}}, domain.ShippingAddress{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.checkout.CreateIntent(t.Context(), f.customer.UserID,
		[]domain.IntentItem{{ProductID: f.mug.ID, Quantity: 0}}, testAddress)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWebhook_RedeliveryCreatesOneOrder(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	out, err := f.deliver(t, "evt_1", pi)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)

	out, err = f.deliver(t, "evt_1", pi)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	orders, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, pi.ID, orders[0].PaymentIntentID)
	assert.Equal(t, domain.PaymentPaid, orders[0].PaymentStatus)
	assert.Equal(t, domain.PaymentStripe, orders[0].PaymentMethod)

	user := f.inbox(t, domain.UserRecipient(f.customer.UserID), domain.FilterAll)
	assert.Len(t, ofType(user, domain.NotificationPlaced), 1)
	assert.Len(t, ofType(user, domain.NotificationPayment), 1)
}

func TestWebhook_DistinctEventsForOneIntentConverge(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	for _, id := range []string{"evt_a", "evt_b"} {
		out, err := f.deliver(t, id, pi)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, out)
	}

	orders, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestWebhook_ConcurrentDeliveriesAndRESTConverge(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	wg.Add(1)
	go func() {
		defer wg.Done()
		in := f.orderInput(f.customer.UserID, domain.PaymentStripe)
		in.PaymentIntentID = pi.ID
		_, _, err := f.orders.PlaceOrder(t.Context(), in)
		errs <- err
	}()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.deliver(t, "evt_race", pi)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	orders, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.PaymentPaid, orders[0].PaymentStatus)

	admin := f.inbox(t, domain.AdminsRecipient, domain.FilterAll)
	assert.Len(t, ofType(admin, domain.NotificationPlaced), 1)
	assert.Len(t, ofType(admin, domain.NotificationPayment), 1)
}

func TestWebhook_RESTFirstThenWebhookConfirms(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	in := f.orderInput(f.customer.UserID, domain.PaymentStripe)
	in.PaymentIntentID = pi.ID
	o, created, err := f.orders.PlaceOrder(t.Context(), in)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.PaymentPending, o.PaymentStatus)

	out, err := f.deliver(t, "evt_late", pi)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)

	stored, err := f.orderRepo.FindById(t.Context(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
}

func TestWebhook_RepricesFromCatalog(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	f.store.AddProduct(domain.Product{ID: f.mug.ID, Name: f.mug.Name, Price: decimal.RequireFromString("500")})

	_, err := f.deliver(t, "evt_price", pi)
	require.NoError(t, err)

	o, err := f.orderRepo.FindByPaymentIntent(t.Context(), pi.ID)
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(2200)), "got %s", o.TotalAmount)
	assert.True(t, o.Items[0].UnitPrice.Equal(decimal.NewFromInt(500)))
}

func TestWebhook_TamperedSignatureHasNoEffect(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, f.customer)
	pi := f.paidIntent(t)

	body := payment.IntentEvent("evt_bad", domain.EventPaymentIntentSucceeded, pi)
	sig := f.gateway.Sign(body)
	body[len(body)-2] = ' '

	out, err := f.reconciler.Handle(t.Context(), body, sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, out)

	orders, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.inbox(t, domain.UserRecipient(f.customer.UserID), domain.FilterAll))
	assert.Empty(t, f.inbox(t, domain.AdminsRecipient, domain.FilterAll))
	assert.Empty(t, f.mail.emails())
	assert.Empty(t, frames(t, conn))
}

func TestWebhook_OtherEventTypesIgnored(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	body := payment.IntentEvent("evt_created", "payment_intent.created", pi)
	out, err := f.reconciler.Handle(t.Context(), body, f.gateway.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)

	orders, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestWebhook_UnusableMetadataIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)
	pi.Metadata["userId"] = "not-a-uuid"

	out, err := f.deliver(t, "evt_meta", pi)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)

	out, err = f.deliver(t, "evt_meta", pi)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
}

func (f *fixture) stranger() domain.Principal {
	p := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	f.store.AddUser(domain.Contact{UserID: p.UserID, Email: "stranger@example.com"}, domain.RoleUser)
	return p
}

func TestPlaceOrder_ForeignIntentRejected(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)
	stranger := f.stranger()

	in := f.orderInput(stranger.UserID, domain.PaymentStripe)
	in.Items = []domain.LineItem{{ProductID: f.mug.ID, Quantity: 1, UnitPrice: decimal.RequireFromString("0.05")}}
	in.PaymentIntentID = pi.ID
	_, _, err := f.orders.PlaceOrder(t.Context(), in)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	out, err := f.deliver(t, "evt_owner", pi)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)

	mine, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.PaymentPaid, mine[0].PaymentStatus)
	assert.True(t, mine[0].TotalAmount.Equal(decimal.NewFromInt(2100)))

	theirs, err := f.orderRepo.ListByUser(t.Context(), stranger.UserID)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestPlaceOrder_IntentMustMatchOrder(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)

	cases := map[string]func(in *CreateOrderInput){
		"client priced items": func(in *CreateOrderInput) {
			in.Items = []domain.LineItem{{ProductID: f.tee.ID, Quantity: 50, UnitPrice: decimal.RequireFromString("0.01")}}
		},
		"same items cheaper": func(in *CreateOrderInput) {
			in.Items[1].UnitPrice = decimal.RequireFromString("0.01")
		},
		"extra item": func(in *CreateOrderInput) {
			in.Items = append(in.Items, domain.LineItem{ProductID: f.tee.ID, Quantity: 1, UnitPrice: f.tee.Price})
		},
		"cash on delivery": func(in *CreateOrderInput) {
			in.PaymentMethod = domain.PaymentCashOnDelivery
		},
		"unknown intent": func(in *CreateOrderInput) {
			in.PaymentIntentID = "pi_missing"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := f.orderInput(f.customer.UserID, domain.PaymentStripe)
			in.PaymentIntentID = pi.ID
			mutate(&in)
			_, _, err := f.orders.PlaceOrder(t.Context(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	orders, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	assert.Empty(t, orders)

	// Items in a different order still match.
	in := f.orderInput(f.customer.UserID, domain.PaymentStripe)
	in.Items[0], in.Items[1] = in.Items[1], in.Items[0]
	in.PaymentIntentID = pi.ID
	_, created, err := f.orders.PlaceOrder(t.Context(), in)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestWebhook_IntentHeldByAnotherUserIsNotConfirmed(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)
	stranger := f.stranger()

	in := f.orderInput(stranger.UserID, domain.PaymentStripe)
	in.PaymentIntentID = pi.ID
	held, _, err := f.orders.CreateOrder(t.Context(), in)
	require.NoError(t, err)

	out, err := f.deliver(t, "evt_held", pi)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)

	stored, err := f.orderRepo.FindById(t.Context(), held.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, stored.PaymentStatus)
	assert.Empty(t, ofType(f.inbox(t, domain.UserRecipient(stranger.UserID), domain.FilterAll), domain.NotificationPayment))
}

type stalledProducts struct{}

func (stalledProducts) FindByIds(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWebhook_TimeoutLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	pi := f.paidIntent(t)
	events := repo.NewMemoryPaymentEvents(f.store)
	r := NewReconciler(f.gateway, f.orders, f.orderRepo, stalledProducts{}, events, 20*time.Millisecond, nil)

	body := payment.IntentEvent("evt_slow", domain.EventPaymentIntentSucceeded, pi)
	out, err := r.Handle(t.Context(), body, f.gateway.Sign(body))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, out)

	orders, err := f.orderRepo.ListByUser(t.Context(), f.customer.UserID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	seen, err := events.Exists(t.Context(), "evt_slow")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Empty(t, f.inbox(t, domain.AdminsRecipient, domain.FilterAll))
}
