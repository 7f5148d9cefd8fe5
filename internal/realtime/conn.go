package realtime

import (
	"fmt"
	"sync"

	"storefront-events/internal/domain"

	"github.com/google/uuid"
)

// ConnState is a step in a live connection's lifecycle.
type ConnState int

const (
	StateHandshake ConnState = iota
	StateAuthenticated
	StateAssigned
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateAuthenticated:
		return "authenticated"
	case StateAssigned:
		return "assigned"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// connTransitions is the lifecycle table. Closing is allowed from any state
// and handled separately.
var connTransitions = map[ConnState]ConnState{
	StateHandshake:     StateAuthenticated,
	StateAuthenticated: StateAssigned,
	StateAssigned:      StateActive,
}

// Conn is one authenticated live connection. It belongs to exactly one group
// for its whole life.
type Conn struct {
	ID        uuid.UUID
	principal domain.Principal
	group     Group

	mu    sync.Mutex
	state ConnState
	send  chan []byte
}

func newConn(buffer int) *Conn {
	return &Conn{
		ID:    uuid.New(),
		state: StateHandshake,
		send:  make(chan []byte, buffer),
	}
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Principal() domain.Principal { return c.principal }

func (c *Conn) Group() Group { return c.group }

// Outbound yields the frames routed to this connection. It is closed on
// disconnect.
func (c *Conn) Outbound() <-chan []byte { return c.send }

func (c *Conn) advance(next ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if want, ok := connTransitions[c.state]; !ok || want != next {
		return fmt.Errorf("connection %s: illegal transition %s -> %s", c.ID, c.state, next)
	}
	c.state = next
	return nil
}

// close moves the connection to its terminal state. It reports whether this
// call performed the close.
func (c *Conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	close(c.send)
	return true
}
