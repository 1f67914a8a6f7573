package domain

import "github.com/google/uuid"

// Role is the authorization role carried in access tokens
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Actor is the authenticated identity performing an operation
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsAdmin reports whether the actor has the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsOwnerOrAdmin grants access when the actor owns the resource or is an admin.
func IsOwnerOrAdmin(actor Actor, ownerID uuid.UUID) bool {
	return actor.ID == ownerID || actor.Role == RoleAdmin
}
