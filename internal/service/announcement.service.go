package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"storefront-events/internal/domain"
	"storefront-events/internal/repo"

	"github.com/google/uuid"
)

const maxAnnouncementLength = 1000

// AnnouncementService sends an administrator's message to every customer.
// Each customer gets an independent event, so each has their own row and
// read state.
type AnnouncementService struct {
	users      repo.UserRepo
	dispatcher *Dispatcher
	log        *slog.Logger
}

func NewAnnouncementService(users repo.UserRepo, dispatcher *Dispatcher, logger *slog.Logger) *AnnouncementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnnouncementService{users: users, dispatcher: dispatcher, log: logger.With("component", "announcements")}
}

// Broadcast returns the number of customers notified. It stops at the first
// storage failure. Calls sharing a non-empty key form one announcement: a
// retry skips customers who already have it.
func (s *AnnouncementService) Broadcast(ctx context.Context, actor domain.Principal, key, message string) (int, error) {
	if !actor.IsAdmin() {
		return 0, fmt.Errorf("%w: only administrators broadcast", domain.ErrForbidden)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return 0, fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(message) > maxAnnouncementLength {
		return 0, fmt.Errorf("%w: message longer than %d characters", domain.ErrInvalidInput, maxAnnouncementLength)
	}

	customers, err := s.users.ListCustomerIDs(ctx)
	if err != nil {
		return 0, err
	}
	if key == "" {
		key = uuid.NewString()
	}
	sent, skipped := 0, 0
	for _, id := range customers {
		ev := domain.Broadcast{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("broadcast/"+key+"/"+id.String())),
			Recipient: id,
			Message:   message,
		}
		_, err := s.dispatcher.Dispatch(ctx, ev)
		if errors.Is(err, domain.ErrAlreadyExists) {
			skipped++
			continue
		}
		if err != nil {
			return sent, err
		}
		sent++
	}
	s.log.Info("broadcast sent", "recipients", sent, "already_notified", skipped, "by", actor.UserID)
	return sent, nil
}
