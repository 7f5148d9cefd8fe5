package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAuth maps raw tokens to principals.
type stubAuth map[string]domain.Principal

func (s stubAuth) Verify(raw string) (domain.Principal, error) {
	p, ok := s[raw]
	if !ok {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	return p, nil
}

func connect(t *testing.T, r *Router, token string) *Conn {
	t.Helper()
	c, err := r.Handshake(token)
	require.NoError(t, err)
	require.NoError(t, r.Admit(c))
	return c
}

func receive(t *testing.T, c *Conn) Message {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		var msg Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return Message{}
	}
}

func TestRouter_GroupAssignment(t *testing.T) {
	user := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	admin := domain.Principal{UserID: uuid.New(), Role: domain.RoleAdmin}
	r := NewRouter(stubAuth{"u": user, "a": admin}, nil)

	uc := connect(t, r, "u")
	ac := connect(t, r, "a")

	assert.Equal(t, UserGroup(user.UserID), uc.Group())
	assert.Equal(t, GroupAdmins, ac.Group())
	assert.Equal(t, StateActive, uc.State())
	assert.Equal(t, 1, r.Connected(UserGroup(user.UserID)))
	assert.Equal(t, 1, r.Connected(GroupAdmins))
}

func TestRouter_RejectedHandshakeNeverJoins(t *testing.T) {
	r := NewRouter(stubAuth{}, nil)

	c, err := r.Handshake("bogus")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Nil(t, c)
	assert.Equal(t, 0, r.Connected(GroupAdmins))
}

func TestRouter_MultipleDevicesReceiveSamePush(t *testing.T) {
	user := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	other := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	r := NewRouter(stubAuth{"u": user, "o": other}, nil)

	phone := connect(t, r, "u")
	laptop := connect(t, r, "u")
	stranger := connect(t, r, "o")

	n, err := r.Publish(UserGroup(user.UserID), Message{Event: "user:order_shipped", Data: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "user:order_shipped", receive(t, phone).Event)
	assert.Equal(t, "user:order_shipped", receive(t, laptop).Event)
	select {
	case <-stranger.Outbound():
		t.Fatal("other user received a private push")
	default:
	}
}

func TestRouter_DisconnectLeavesNoDanglingMember(t *testing.T) {
	user := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	r := NewRouter(stubAuth{"u": user}, nil)
	c := connect(t, r, "u")

	r.Disconnect(c)
	r.Disconnect(c)

	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 0, r.Connected(UserGroup(user.UserID)))
	n, err := r.Publish(UserGroup(user.UserID), Message{Event: "user:broadcast"})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, open := <-c.Outbound()
	assert.False(t, open)
}

func TestRouter_AdmitAfterCloseFails(t *testing.T) {
	user := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	r := NewRouter(stubAuth{"u": user}, nil)
	c, err := r.Handshake("u")
	require.NoError(t, err)

	r.Disconnect(c)
	assert.Error(t, r.Admit(c))
	assert.Equal(t, 0, r.Connected(UserGroup(user.UserID)))
}

func TestConn_IllegalTransition(t *testing.T) {
	c := newConn(1)
	assert.Error(t, c.advance(StateActive))
	require.NoError(t, c.advance(StateAuthenticated))
	assert.Error(t, c.advance(StateAuthenticated))
	assert.True(t, c.close())
	assert.False(t, c.close())
	assert.Error(t, c.advance(StateAssigned))
}

func TestRouter_PublishDropsWhenBufferFull(t *testing.T) {
	user := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	r := NewRouter(stubAuth{"u": user}, nil)
	r.buffer = 1
	connect(t, r, "u")

	n, err := r.Publish(UserGroup(user.UserID), Message{Event: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.Publish(UserGroup(user.UserID), Message{Event: "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandler_WebsocketPush(t *testing.T) {
	user := domain.Principal{UserID: uuid.New(), Role: domain.RoleUser}
	r := NewRouter(stubAuth{"good": user}, nil)
	srv := httptest.NewServer(NewHandler(r, func(*http.Request) bool { return true }, nil))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("rejects bad credential before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bad", nil)
		require.Error(t, err)
		require.True(t, errors.Is(err, websocket.ErrBadHandshake))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("delivers pushes to the user's group", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer good"}}
		ws, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer ws.Close()

		require.Eventually(t, func() bool { return r.Connected(UserGroup(user.UserID)) == 1 },
			time.Second, 10*time.Millisecond)

		_, err = r.Publish(UserGroup(user.UserID), Message{Event: "user:order_delivered", Data: map[string]string{"id": "1"}})
		require.NoError(t, err)

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
		var msg Message
		require.NoError(t, ws.ReadJSON(&msg))
		assert.Equal(t, "user:order_delivered", msg.Event)

		ws.Close()
		require.Eventually(t, func() bool { return r.Connected(UserGroup(user.UserID)) == 0 },
			time.Second, 10*time.Millisecond)
	})
}
