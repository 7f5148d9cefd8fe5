package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore keeps every collection in process memory. It backs the unit
// tests and the simulate command.
type MemoryStore struct {
	mu            sync.RWMutex
	orders        map[uuid.UUID]domain.Order
	notifications map[uuid.UUID]domain.Notification
	users         map[uuid.UUID]memoryUser
	products      map[uuid.UUID]domain.Product
	paymentEvents map[string]*uuid.UUID
}

type memoryUser struct {
	contact domain.Contact
	role    domain.Role
	created time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:        make(map[uuid.UUID]domain.Order),
		notifications: make(map[uuid.UUID]domain.Notification),
		users:         make(map[uuid.UUID]memoryUser),
		products:      make(map[uuid.UUID]domain.Product),
		paymentEvents: make(map[string]*uuid.UUID),
	}
}

type memTxKey struct{}

func inMemTx(ctx context.Context) bool {
	b, ok := ctx.Value(memTxKey{}).(bool)
	return ok && b
}

// The transaction holds the write lock, so repositories skip locking inside it.
func (m *MemoryStore) rlock(ctx context.Context) {
	if !inMemTx(ctx) {
		m.mu.RLock()
	}
}

func (m *MemoryStore) runlock(ctx context.Context) {
	if !inMemTx(ctx) {
		m.mu.RUnlock()
	}
}

func (m *MemoryStore) wlock(ctx context.Context) {
	if !inMemTx(ctx) {
		m.mu.Lock()
	}
}

func (m *MemoryStore) wunlock(ctx context.Context) {
	if !inMemTx(ctx) {
		m.mu.Unlock()
	}
}

// AddUser seeds a user.
func (m *MemoryStore) AddUser(c domain.Contact, role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[c.UserID] = memoryUser{contact: c, role: role, created: time.Now()}
}

// AddProduct seeds a catalog product.
func (m *MemoryStore) AddProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func copyOrder(o domain.Order) *domain.Order {
	cp := o
	cp.Items = append([]domain.LineItem(nil), o.Items...)
	return &cp
}

type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

var _ TxManager = (*MemoryTx)(nil)

func (tx *MemoryTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepo = (*MemoryOrders)(nil)

func (mo *MemoryOrders) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	o, ok := mo.store.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyOrder(o), nil
}

func (mo *MemoryOrders) FindByIdForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return mo.FindById(ctx, id)
}

func (mo *MemoryOrders) FindByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	for _, o := range mo.store.orders {
		if intentID != "" && o.PaymentIntentID == intentID {
			return copyOrder(o), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (mo *MemoryOrders) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	var out []domain.Order
	for _, o := range mo.store.orders {
		if o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (mo *MemoryOrders) CreateOrder(ctx context.Context, order *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.orders[order.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if order.PaymentIntentID != "" {
		for _, o := range mo.store.orders {
			if o.PaymentIntentID == order.PaymentIntentID {
				return domain.ErrAlreadyExists
			}
		}
	}
	mo.store.orders[order.ID] = *copyOrder(*order)
	return nil
}

func (mo *MemoryOrders) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	o, ok := mo.store.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = order.Status
	o.UpdatedAt = order.UpdatedAt
	mo.store.orders[o.ID] = o
	return nil
}

func (mo *MemoryOrders) UpdatePaymentStatus(ctx context.Context, order *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	o, ok := mo.store.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	o.PaymentStatus = order.PaymentStatus
	o.UpdatedAt = order.UpdatedAt
	mo.store.orders[o.ID] = o
	return nil
}

func (mo *MemoryOrders) FindStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	cutoff := time.Now().Add(-olderThan)
	var out []domain.Order
	for _, o := range mo.store.orders {
		if o.PaymentStatus == domain.PaymentPending && o.PaymentIntentID != "" &&
			o.Status != domain.OrderCancelled && o.UpdatedAt.Before(cutoff) {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryNotifications struct{ store *MemoryStore }

func NewMemoryNotifications(store *MemoryStore) *MemoryNotifications {
	return &MemoryNotifications{store: store}
}

var _ NotificationRepo = (*MemoryNotifications)(nil)

func (mn *MemoryNotifications) Append(ctx context.Context, n *domain.Notification) error {
	mn.store.wlock(ctx)
	defer mn.store.wunlock(ctx)
	if _, ok := mn.store.notifications[n.ID]; ok {
		return domain.ErrAlreadyExists
	}
	mn.store.notifications[n.ID] = *n
	return nil
}

func (mn *MemoryNotifications) FindById(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	mn.store.rlock(ctx)
	defer mn.store.runlock(ctx)
	n, ok := mn.store.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &n, nil
}

func (mn *MemoryNotifications) List(ctx context.Context, q domain.NotificationQuery) (domain.NotificationPage, error) {
	mn.store.rlock(ctx)
	defer mn.store.runlock(ctx)

	var matched []domain.Notification
	for _, n := range mn.store.notifications {
		if n.Recipient != q.Recipient {
			continue
		}
		switch q.Filter {
		case domain.FilterUnread:
			if n.Read {
				continue
			}
		case domain.FilterRead:
			if !n.Read {
				continue
			}
		case domain.FilterBroadcast:
			if n.Type != domain.NotificationBroadcast {
				continue
			}
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.NotificationPage{Items: []domain.Notification{}}
	start := q.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + q.PageSize
	if end < len(matched) {
		page.HasMore = true
	} else {
		end = len(matched)
	}
	page.Items = append(page.Items, matched[start:end]...)
	return page, nil
}

func (mn *MemoryNotifications) MarkRead(ctx context.Context, id uuid.UUID) error {
	mn.store.wlock(ctx)
	defer mn.store.wunlock(ctx)
	n, ok := mn.store.notifications[id]
	if !ok {
		return nil
	}
	n.Read = true
	mn.store.notifications[id] = n
	return nil
}

func (mn *MemoryNotifications) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	mn.store.wlock(ctx)
	defer mn.store.wunlock(ctx)
	var changed int64
	for id, n := range mn.store.notifications {
		if n.Recipient == recipient && !n.Read {
			n.Read = true
			mn.store.notifications[id] = n
			changed++
		}
	}
	return changed, nil
}

func (mn *MemoryNotifications) ClearAll(ctx context.Context, recipient string) (int64, error) {
	mn.store.wlock(ctx)
	defer mn.store.wunlock(ctx)
	var removed int64
	for id, n := range mn.store.notifications {
		if n.Recipient == recipient {
			delete(mn.store.notifications, id)
			removed++
		}
	}
	return removed, nil
}

func (mn *MemoryNotifications) UnreadCount(ctx context.Context, recipient string) (int64, error) {
	mn.store.rlock(ctx)
	defer mn.store.runlock(ctx)
	var count int64
	for _, n := range mn.store.notifications {
		if n.Recipient == recipient && !n.Read {
			count++
		}
	}
	return count, nil
}

type MemoryUsers struct{ store *MemoryStore }

func NewMemoryUsers(store *MemoryStore) *MemoryUsers { return &MemoryUsers{store: store} }

var _ UserRepo = (*MemoryUsers)(nil)

func (mu *MemoryUsers) FindContact(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	u, ok := mu.store.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := u.contact
	return &c, nil
}

func (mu *MemoryUsers) ListCustomerIDs(ctx context.Context) ([]uuid.UUID, error) {
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	users := make([]memoryUser, 0, len(mu.store.users))
	for _, u := range mu.store.users {
		if u.role == domain.RoleUser {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].created.Before(users[j].created) })
	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		ids[i] = u.contact.UserID
	}
	return ids, nil
}

type MemoryProducts struct{ store *MemoryStore }

func NewMemoryProducts(store *MemoryStore) *MemoryProducts { return &MemoryProducts{store: store} }

var _ ProductRepo = (*MemoryProducts)(nil)

func (mp *MemoryProducts) FindByIds(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	out := make(map[uuid.UUID]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := mp.store.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type MemoryPaymentEvents struct{ store *MemoryStore }

func NewMemoryPaymentEvents(store *MemoryStore) *MemoryPaymentEvents {
	return &MemoryPaymentEvents{store: store}
}

var _ PaymentEventRepo = (*MemoryPaymentEvents)(nil)

func (me *MemoryPaymentEvents) Exists(ctx context.Context, eventID string) (bool, error) {
	me.store.rlock(ctx)
	defer me.store.runlock(ctx)
	_, ok := me.store.paymentEvents[eventID]
	return ok, nil
}

func (me *MemoryPaymentEvents) MarkProcessed(ctx context.Context, eventID, eventType string, orderID *uuid.UUID) (bool, error) {
	me.store.wlock(ctx)
	defer me.store.wunlock(ctx)
	if _, ok := me.store.paymentEvents[eventID]; ok {
		return false, nil
	}
	me.store.paymentEvents[eventID] = orderID
	return true, nil
}
