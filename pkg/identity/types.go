package identity

import (
	"errors"
	"time"
)

// Role represents the caller's role claim
type Role string

const (
	RoleAdmin Role = "admin" // Full read/write access
	RoleUser  Role = "user"  // Read-only access to non-deleted rows
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Identity is the resolved caller identity. It is an immutable value:
// construct a new one per Resolve call, never mutate or share across calls.
type Identity struct {
	SubjectID   string
	Role        Role
	DisplayName string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// IsAdmin reports whether the identity carries the admin role
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// ExpiresSoon reports whether the token expires within the given window,
// signalling the caller to refresh.
func (i *Identity) ExpiresSoon(window time.Duration) bool {
	return time.Until(i.ExpiresAt) < window
}

// Authentication errors
var (
	// ErrInvalidToken indicates a malformed token or a signature mismatch
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates a well-formed token past its expiry
	ErrExpiredToken = errors.New("token expired")
)
