package service

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"storefront-events/internal/auth"
	"storefront-events/internal/domain"
	"storefront-events/internal/infrastructure/payment"
	"storefront-events/internal/realtime"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type sentEmail struct {
	address, subject, body string
}

type recordingQueue struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (q *recordingQueue) Enqueue(address, subject, body string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, sentEmail{address, subject, body})
	return true
}

func (q *recordingQueue) emails() []sentEmail {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]sentEmail(nil), q.sent...)
}

type fixture struct {
	store         *repo.MemoryStore
	orderRepo     *repo.MemoryOrders
	notifRepo     *repo.MemoryNotifications
	tokens        *auth.Tokens
	router        *realtime.Router
	mail          *recordingQueue
	gateway       *payment.FakeGateway
	dispatcher    *Dispatcher
	orders        *OrderService
	notifications *NotificationService
	announcements *AnnouncementService
	checkout      *CheckoutService
	reconciler    *Reconciler

	customer domain.Principal
	admin    domain.Principal
	mug      domain.Product
	tee      domain.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   repo.NewMemoryStore(),
		tokens:  auth.NewTokens("test-secret", time.Hour),
		mail:    &recordingQueue{},
		gateway: payment.NewFakeGateway("whsec_test"),
	}
	f.orderRepo = repo.NewMemoryOrders(f.store)
	f.notifRepo = repo.NewMemoryNotifications(f.store)
	f.router = realtime.NewRouter(f.tokens, nil)
	users := repo.NewMemoryUsers(f.store)
	products := repo.NewMemoryProducts(f.store)

	f.dispatcher = NewDispatcher(f.notifRepo, users, f.router, f.mail, nil)
	f.orders = NewOrderService(repo.NewMemoryTx(f.store), f.orderRepo, f.dispatcher, f.gateway, decimal.NewFromInt(100), nil)
	f.notifications = NewNotificationService(f.notifRepo)
	f.announcements = NewAnnouncementService(users, f.dispatcher, nil)
	f.checkout = NewCheckoutService(f.gateway, products, "pkr")
	f.reconciler = NewReconciler(f.gateway, f.orders, f.orderRepo, products,
		repo.NewMemoryPaymentEvents(f.store), time.Second, nil)

	f.customer = domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	f.admin = domain.Principal{UserID: uuid.New(), Role: domain.RoleAdmin}
	f.store.AddUser(domain.Contact{UserID: f.customer.UserID, Email: "u@example.com", EmailNotifications: true}, domain.RoleUser)
	f.store.AddUser(domain.Contact{UserID: f.admin.UserID, Email: "admin@example.com", EmailNotifications: true}, domain.RoleAdmin)

	f.mug = domain.Product{ID: uuid.New(), Name: "Mug", Price: decimal.RequireFromString("450")}
	f.tee = domain.Product{ID: uuid.New(), Name: "Tee", Price: decimal.RequireFromString("1200")}
	f.store.AddProduct(f.mug)
	f.store.AddProduct(f.tee)
	return f
}

var testAddress = domain.ShippingAddress{FullName: "Ayesha Khan", Phone: "0300", Address: "12 Canal Road", City: "Lahore", Country: "PK"}

func (f *fixture) orderInput(user uuid.UUID, method domain.PaymentMethod) CreateOrderInput {
	return CreateOrderInput{
		UserID: user,
		Items: []domain.LineItem{
			{ProductID: f.mug.ID, Quantity: 2, UnitPrice: f.mug.Price},
			{ProductID: f.tee.ID, Quantity: 1, UnitPrice: f.tee.Price},
		},
		ShippingAddress: testAddress,
		PaymentMethod:   method,
	}
}

func (f *fixture) placeOrder(t *testing.T) *domain.Order {
	t.Helper()
	o, created, err := f.orders.CreateOrder(t.Context(), f.orderInput(f.customer.UserID, domain.PaymentCashOnDelivery))
	require.NoError(t, err)
	require.True(t, created)
	return o
}

// connect opens an active live connection for p through the real handshake.
func (f *fixture) connect(t *testing.T, p domain.Principal) *realtime.Conn {
	t.Helper()
	tok, err := f.tokens.Issue(p)
	require.NoError(t, err)
	c, err := f.router.Handshake(tok)
	require.NoError(t, err)
	require.NoError(t, f.router.Admit(c))
	t.Cleanup(func() { f.router.Disconnect(c) })
	return c
}

type pushed struct {
	Event string              `json:"event"`
	Data  domain.Notification `json:"data"`
}

// frames drains whatever is already buffered on the connection.
func frames(t *testing.T, c *realtime.Conn) []pushed {
	t.Helper()
	var out []pushed
	for {
		select {
		case raw := <-c.Outbound():
			var p pushed
			require.NoError(t, json.Unmarshal(raw, &p))
			out = append(out, p)
		default:
			return out
		}
	}
}

// inbox lists every notification for a recipient, newest first.
func (f *fixture) inbox(t *testing.T, recipient string, filter domain.NotificationFilter) []domain.Notification {
	t.Helper()
	page, err := f.notifRepo.List(t.Context(), domain.NotificationQuery{Recipient: recipient, Page: 1, PageSize: 1000, Filter: filter})
	require.NoError(t, err)
	return page.Items
}

func ofType(ns []domain.Notification, kind domain.NotificationType) []domain.Notification {
	var out []domain.Notification
	for _, n := range ns {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}
