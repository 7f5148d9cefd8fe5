package email

import (
	"context"
	"testing"
	"time"

	"storefront-events/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestSMTPMailer_RejectsBadAddresses(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "not an address"})
	err := m.Send(t.Context(), "u@example.com", "s", "b")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDownstreamUnavailable)

	m = NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "shop@example.com"})
	err = m.Send(t.Context(), "nobody", "s", "b")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDownstreamUnavailable)
}

func TestSMTPMailer_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "shop@example.com"})
	err := m.Send(ctx, "u@example.com", "Order placed", "body")
	assert.ErrorIs(t, err, domain.ErrDownstreamUnavailable)
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, NewLogMailer(nil).Send(t.Context(), "u@example.com", "s", "b"))
}
