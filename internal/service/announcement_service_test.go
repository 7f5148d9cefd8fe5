package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"storefront-events/internal/domain"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStorageHiccup = errors.New("storage hiccup")

// hiccupNotifications fails exactly one Append, the nth.
type hiccupNotifications struct {
	repo.NotificationRepo
	nth   int64
	calls atomic.Int64
}

func (h *hiccupNotifications) Append(ctx context.Context, n *domain.Notification) error {
	if h.calls.Add(1) == h.nth {
		return errStorageHiccup
	}
	return h.NotificationRepo.Append(ctx, n)
}

func TestBroadcast_RetryWithKeySkipsNotifiedCustomers(t *testing.T) {
	f := newFixture(t)
	customers := []uuid.UUID{f.customer.UserID}
	for i := 0; i < 2; i++ {
		id := uuid.New()
		f.store.AddUser(domain.Contact{UserID: id, Email: id.String() + "@example.com"}, domain.RoleUser)
		customers = append(customers, id)
	}

	flaky := &hiccupNotifications{NotificationRepo: f.notifRepo, nth: 2}
	dispatcher := NewDispatcher(flaky, repo.NewMemoryUsers(f.store), f.router, f.mail, nil)
	announcements := NewAnnouncementService(repo.NewMemoryUsers(f.store), dispatcher, nil)

	sent, err := announcements.Broadcast(t.Context(), f.admin, "spring-sale", "Spring sale")
	require.ErrorIs(t, err, errStorageHiccup)
	assert.Equal(t, 1, sent)

	sent, err = announcements.Broadcast(t.Context(), f.admin, "spring-sale", "Spring sale")
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	sent, err = announcements.Broadcast(t.Context(), f.admin, "spring-sale", "Spring sale")
	require.NoError(t, err)
	assert.Zero(t, sent)

	for _, id := range customers {
		rows := f.inbox(t, domain.UserRecipient(id), domain.FilterBroadcast)
		assert.Len(t, rows, 1, id)
	}
}

func TestBroadcast_WithoutKeyIsANewAnnouncement(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		sent, err := f.announcements.Broadcast(t.Context(), f.admin, "", "Flash sale")
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
	}
	assert.Len(t, f.inbox(t, domain.UserRecipient(f.customer.UserID), domain.FilterBroadcast), 2)
}

func TestBroadcast_KeysAreScopedPerAnnouncement(t *testing.T) {
	f := newFixture(t)

	for _, key := range []string{"a", "b"} {
		sent, err := f.announcements.Broadcast(t.Context(), f.admin, key, "News "+key)
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
	}
	assert.Len(t, f.inbox(t, domain.UserRecipient(f.customer.UserID), domain.FilterBroadcast), 2)
}
