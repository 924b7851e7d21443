// Package profile provides the user profile store backing PIN
// authentication.
//
// PIN codes are stored as plain 6-digit strings for parity with the
// hosted profile table this service fronts. That is a known security
// gap: a credential column readable by the service is readable in the
// clear. Keep that in mind before pointing this at anything that
// matters.
package profile

import (
	"errors"
	"time"
)

var (
	// ErrNotAuthenticated means no user identity is attached to the
	// current request or session.
	ErrNotAuthenticated = errors.New("user not authenticated")
	// ErrNotFound means the user has no profile row.
	ErrNotFound = errors.New("user profile not found")
)

// UserProfile is one row of the user_profiles table.
type UserProfile struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PinCode      string     `json:"-"`
	PinSet       bool       `json:"pin_set"`
	PinCreatedAt *time.Time `json:"pin_created_at,omitempty"`
	PinUpdatedAt *time.Time `json:"pin_updated_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AuthenticatedUser is the identity resolved for a single operation.
// It is intentionally not cached across dispatches so a logout between
// two function calls is observed immediately.
type AuthenticatedUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
