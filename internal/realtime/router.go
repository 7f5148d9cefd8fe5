package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
)

// Group is a delivery group: one user's private group or the shared
// administrators' group.
type Group string

const GroupAdmins Group = "admins"

func UserGroup(id uuid.UUID) Group { return Group("user:" + id.String()) }

// GroupFor is the one group a principal's connections join.
func GroupFor(p domain.Principal) Group {
	if p.IsAdmin() {
		return GroupAdmins
	}
	return UserGroup(p.UserID)
}

// Message is the frame pushed to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Authenticator interface {
	Verify(raw string) (domain.Principal, error)
}

// Router owns the live group membership. Only Admit and Disconnect mutate
// it; the dispatcher only reads it through Publish and Connected.
type Router struct {
	auth   Authenticator
	log    *slog.Logger
	buffer int

	mu     sync.RWMutex
	groups map[Group]map[*Conn]struct{}
}

func NewRouter(auth Authenticator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		auth:   auth,
		log:    logger.With("component", "router"),
		buffer: 32,
		groups: make(map[Group]map[*Conn]struct{}),
	}
}

// Handshake authenticates a credential and returns a connection in the
// authenticated state. A rejected handshake yields a closed connection that
// was never assigned to a group.
func (r *Router) Handshake(token string) (*Conn, error) {
	c := newConn(r.buffer)
	principal, err := r.auth.Verify(token)
	if err != nil {
		c.close()
		return nil, err
	}
	c.principal = principal
	c.group = GroupFor(principal)
	if err := c.advance(StateAuthenticated); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// Admit places an authenticated connection in its group and activates it.
func (r *Router) Admit(c *Conn) error {
	if err := c.advance(StateAssigned); err != nil {
		return err
	}

	r.mu.Lock()
	if c.State() == StateClosed {
		r.mu.Unlock()
		return fmt.Errorf("connection %s closed before admission", c.ID)
	}
	members, ok := r.groups[c.group]
	if !ok {
		members = make(map[*Conn]struct{})
		r.groups[c.group] = members
	}
	members[c] = struct{}{}
	r.mu.Unlock()

	if err := c.advance(StateActive); err != nil {
		r.Disconnect(c)
		return err
	}
	r.log.Debug("connection admitted", "conn", c.ID, "group", c.group, "user", c.principal.UserID)
	return nil
}

// Disconnect removes the connection from its group and closes it. It is safe
// to call more than once.
func (r *Router) Disconnect(c *Conn) {
	r.mu.Lock()
	if members, ok := r.groups[c.group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.groups, c.group)
		}
	}
	closed := c.close()
	r.mu.Unlock()

	if closed {
		r.log.Debug("connection closed", "conn", c.ID, "group", c.group)
	}
}

// Connected returns the number of live connections in the group.
func (r *Router) Connected(g Group) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[g])
}

// Publish pushes msg to every live connection in the group and returns how
// many accepted it. A connection whose buffer is full misses the frame.
func (r *Router) Publish(g Group, msg Message) (int, error) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode %s frame: %w", msg.Event, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for c := range r.groups[g] {
		select {
		case c.send <- frame:
			delivered++
		default:
			r.log.Warn("dropping frame for slow connection", "conn", c.ID, "group", g, "event", msg.Event)
		}
	}
	return delivered, nil
}
