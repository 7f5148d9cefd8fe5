package domain

import "github.com/google/uuid"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID uuid.UUID `json:"userId"`
	Role   Role      `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Contact is what the dispatcher needs to email a user.
type Contact struct {
	UserID             uuid.UUID
	Email              string
	EmailNotifications bool
}

// System is the privileged principal that provider events and background
// jobs act as.
var System = Principal{Role: RoleAdmin}
